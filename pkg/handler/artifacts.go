package handler

import (
	"axon/pkg/api"
	"axon/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// extractImageArtifacts scans tool outputs for image-bearing payloads and
// converts them into channel-native attachments. Recognized shapes are a
// top-level "images" list of URLs and a single "image_url" string, both
// best-effort: anything that does not match is simply skipped.
func extractImageArtifacts(usages []api.ToolUsageRecord) []api.Attachment {
	var out []api.Attachment

	for _, u := range usages {
		m, ok := u.Output.(map[string]any)
		if !ok {
			continue
		}
		if list, ok := m["images"].([]any); ok {
			for _, item := range list {
				if url, ok := item.(string); ok && url != "" {
					out = append(out, api.Attachment{URL: url, Filename: utils.FilenameFromURL(url)})
				}
			}
		}
		if url, ok := m["image_url"].(string); ok && url != "" {
			out = append(out, api.Attachment{URL: url, Filename: utils.FilenameFromURL(url)})
		}
	}

	return out
}

// stringifyUsage renders a tool usage record as the content of its
// audit transcript entry.
func stringifyUsage(u api.ToolUsageRecord) string {
	encoded, err := json.MarshalToString(u)
	if err != nil {
		return u.ToolName
	}
	return encoded
}
