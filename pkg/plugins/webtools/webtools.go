// Package webtools contributes network and clock tools: fetch_url pulls
// a bounded page body over HTTP and current_time reports the wall clock.
package webtools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"axon/pkg/api"
)

// maxBodyBytes bounds how much of a fetched page is handed to the model.
const maxBodyBytes = 256 << 10

// Config holds the tunables for the web tool set.
type Config struct {
	// TimeoutMs bounds each fetch. Defaults to 15000.
	TimeoutMs int `json:"timeout_ms"`
	// UserAgent overrides the request User-Agent header.
	UserAgent string `json:"user_agent"`
}

// WebTools is a tooling plugin offering stateless utility tools.
type WebTools struct {
	config Config
	client *http.Client
}

// New builds the tool set from the instance config.
func New(cfg Config) *WebTools {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 15000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "axon/1.0"
	}
	return &WebTools{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
	}
}

// Shutdown implements the plugin lifecycle; nothing to release.
func (w *WebTools) Shutdown(_ context.Context) error { return nil }

// Tools declares the tool set.
func (w *WebTools) Tools() []api.ToolWithHandler {
	return []api.ToolWithHandler{
		{
			ToolSchema: api.ToolSchema{
				Name:        "fetch_url",
				Description: "Fetch the contents of a web page via HTTP GET. Returns the response body as text, truncated to a safe size.",
				Parameters: []api.ToolParameter{
					{Name: "url", Type: "string", Description: "The absolute http(s) URL to fetch", Required: true},
				},
			},
			Handler: w.fetchURL,
		},
		{
			ToolSchema: api.ToolSchema{
				Name:        "current_time",
				Description: "Get the current date and time. Optionally in a specific IANA timezone.",
				Parameters: []api.ToolParameter{
					{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. 'Asia/Taipei'. Defaults to the server's local zone."},
				},
			},
			Handler: w.currentTime,
		},
	}
}

func (w *WebTools) fetchURL(ctx context.Context, input map[string]any, _ api.ToolContext) (any, error) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("missing string parameter 'url'")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("url must be http or https: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", w.config.UserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	// Read one byte past the cap so truncation is detectable even for
	// bodies of exactly maxBodyBytes.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := len(body) > maxBodyBytes
	if truncated {
		body = body[:maxBodyBytes]
	}

	return map[string]any{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"truncated":    truncated,
		"body":         string(body),
	}, nil
}

func (w *WebTools) currentTime(_ context.Context, input map[string]any, _ api.ToolContext) (any, error) {
	now := time.Now()
	if tz, _ := input["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		now = now.In(loc)
	}
	return map[string]any{
		"iso":      now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	}, nil
}
