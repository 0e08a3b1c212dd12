package webtools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"axon/pkg/api"
)

func fetchHandler(t *testing.T, w *WebTools) api.ToolHandler {
	t.Helper()
	for _, tool := range w.Tools() {
		if tool.Name == "fetch_url" {
			return tool.Handler
		}
	}
	t.Fatal("fetch_url tool not declared")
	return nil
}

func TestFetchURLTruncation(t *testing.T) {
	cases := []struct {
		name          string
		bodySize      int
		wantTruncated bool
		wantBodySize  int
	}{
		{"small body", 100, false, 100},
		{"exactly at cap", maxBodyBytes, false, maxBodyBytes},
		{"one over cap", maxBodyBytes + 1, true, maxBodyBytes},
		{"far over cap", maxBodyBytes * 2, true, maxBodyBytes},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				if _, err := w.Write([]byte(strings.Repeat("a", tc.bodySize))); err != nil {
					t.Errorf("write body: %v", err)
				}
			}))
			defer srv.Close()

			handler := fetchHandler(t, New(Config{}))
			out, err := handler(context.Background(), map[string]any{"url": srv.URL}, api.ToolContext{})
			if err != nil {
				t.Fatalf("fetch_url: %v", err)
			}

			result := out.(map[string]any)
			if result["truncated"] != tc.wantTruncated {
				t.Fatalf("truncated = %v, want %v", result["truncated"], tc.wantTruncated)
			}
			if body := result["body"].(string); len(body) != tc.wantBodySize {
				t.Fatalf("body length = %d, want %d", len(body), tc.wantBodySize)
			}
			if result["status"] != http.StatusOK {
				t.Fatalf("status = %v", result["status"])
			}
		})
	}
}

func TestFetchURLRejectsNonHTTP(t *testing.T) {
	handler := fetchHandler(t, New(Config{}))

	if _, err := handler(context.Background(), map[string]any{"url": "ftp://example.com"}, api.ToolContext{}); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
	if _, err := handler(context.Background(), map[string]any{}, api.ToolContext{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestCurrentTime(t *testing.T) {
	w := New(Config{})
	var handler api.ToolHandler
	for _, tool := range w.Tools() {
		if tool.Name == "current_time" {
			handler = tool.Handler
		}
	}
	if handler == nil {
		t.Fatal("current_time tool not declared")
	}

	out, err := handler(context.Background(), map[string]any{"timezone": "UTC"}, api.ToolContext{})
	if err != nil {
		t.Fatalf("current_time: %v", err)
	}
	result := out.(map[string]any)
	if result["timezone"] != "UTC" {
		t.Fatalf("timezone = %v", result["timezone"])
	}

	if _, err := handler(context.Background(), map[string]any{"timezone": "Mars/Olympus"}, api.ToolContext{}); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
