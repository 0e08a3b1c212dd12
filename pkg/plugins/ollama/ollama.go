// Package ollama implements the model capability against a local or
// remote Ollama server.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"axon/pkg/api"

	jsoniter "github.com/json-iterator/go"
	ollamaapi "github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the connection settings for one Ollama backend.
type Config struct {
	// BaseURL of the Ollama server. Defaults to http://localhost:11434.
	BaseURL string `json:"base_url"`
	// DefaultModel is used when a request does not name a model.
	DefaultModel string `json:"default_model"`
	// Options are passed through to the server (temperature, num_ctx, ...).
	Options map[string]any `json:"options"`
}

// Ollama is the Ollama implementation of the model capability.
type Ollama struct {
	config Config
	client *ollamaapi.Client
}

// New builds a client from the instance config. Local model loads can
// take minutes, so the HTTP client carries no response timeout; callers
// bound requests through their context.
func New(cfg Config) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 0,
		},
	}

	slog.Info("Ollama client initialized", "base_url", cfg.BaseURL, "default_model", cfg.DefaultModel)

	return &Ollama{config: cfg, client: ollamaapi.NewClient(u, httpClient)}, nil
}

// Shutdown implements the plugin lifecycle; nothing to release.
func (o *Ollama) Shutdown(_ context.Context) error { return nil }

// ListModels enumerates the locally available models.
func (o *Ollama) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	models := make([]api.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, api.ModelInfo{ID: m.Name, Name: m.Name})
	}
	return models, nil
}

// Generate runs one non-streaming chat round against the server.
func (o *Ollama) Generate(ctx context.Context, req api.GenerateRequest) (*api.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = o.config.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model specified and no default configured: %w", api.ErrValidation)
	}

	stream := false
	chatReq := &ollamaapi.ChatRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Options:  o.config.Options,
		Stream:   &stream,
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}

	var final *ollamaapi.ChatResponse
	err := o.client.Chat(ctx, chatReq, func(resp ollamaapi.ChatResponse) error {
		final = &resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	if final == nil {
		return nil, fmt.Errorf("ollama returned no response")
	}

	out := &api.GenerateResponse{Content: final.Message.Content}
	for _, tc := range final.Message.ToolCalls {
		input := tc.Function.Arguments.ToMap()
		if input == nil {
			input = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, api.ToolCall{
			ID:    fmt.Sprintf("%s-%d", tc.Function.Name, len(out.ToolCalls)),
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	if final.PromptEvalCount > 0 || final.EvalCount > 0 {
		out.Usage = &api.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
		}
	}
	return out, nil
}

func convertMessages(messages []api.Message) []ollamaapi.Message {
	out := make([]ollamaapi.Message, 0, len(messages))
	for _, m := range messages {
		msg := ollamaapi.Message{
			Role:    m.Role,
			Content: m.Content,
		}
		for _, img := range m.Images {
			msg.Images = append(msg.Images, ollamaapi.ImageData(img.Data))
		}
		if m.Role == api.RoleAssistant && len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				// ToolCallFunctionArguments round-trips through JSON; the
				// SDK type does not expose a map constructor.
				var args ollamaapi.ToolCallFunctionArguments
				raw, err := json.Marshal(tc.Input)
				if err == nil {
					if err := json.Unmarshal(raw, &args); err != nil {
						slog.Warn("Failed to convert tool arguments for history", "provider", "ollama", "error", err)
					}
				}
				msg.ToolCalls = append(msg.ToolCalls, ollamaapi.ToolCall{
					Function: ollamaapi.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// convertTools goes through JSON to bridge the SDK's typed schema
// structs without mirroring them field by field.
func convertTools(tools []api.ToolSchema) ([]ollamaapi.Tool, error) {
	raw := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.JSONSchema(),
			},
		})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal tools: %w", err)
	}
	var out []ollamaapi.Tool
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("convert tools to ollama format: %w", err)
	}
	return out, nil
}
