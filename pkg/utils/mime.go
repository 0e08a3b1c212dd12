package utils

import (
	"mime"
	"net/http"
	"net/url"
	"path"
)

// DetectMimeAndExt analyzes a byte slice to determine both its MIME type
// and standard extension. It returns ("application/octet-stream", ".png")
// if identification fails.
func DetectMimeAndExt(data []byte) (string, string) {
	mimeType := "application/octet-stream"
	if len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}
	return mimeType, mimeToExt(mimeType)
}

// FilenameFromURL infers an attachment filename from a URL, best-effort.
// Falls back to "attachment.png" when the URL has no usable path segment.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "attachment.png"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "attachment.png"
	}
	if path.Ext(name) == "" {
		name += ".png"
	}
	return name
}

// mimeToExt converts a MIME type to its first standard extension,
// defaulting to ".png".
func mimeToExt(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".png"
	}
	return exts[0]
}
