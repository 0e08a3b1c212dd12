// Package gemini implements the model capability against the Google
// Gemini API via the genai SDK.
package gemini

import (
	"context"
	"fmt"

	"axon/pkg/api"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the connection settings for one Gemini backend.
type Config struct {
	APIKey string `json:"api_key"`
	// DefaultModel is used when a request does not name a model.
	DefaultModel string `json:"default_model"`
}

// Gemini is the Gemini implementation of the model capability.
type Gemini struct {
	config Config
	client *genai.Client
}

// New builds a client from the instance config.
func New(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing gemini api key: %w", api.ErrValidation)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{config: cfg, client: client}, nil
}

// Shutdown implements the plugin lifecycle; the client holds no
// persistent connections.
func (g *Gemini) Shutdown(_ context.Context) error { return nil }

// ListModels enumerates the generative models the API offers.
func (g *Gemini) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	var models []api.ModelInfo
	for model, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("gemini list models: %w", err)
		}
		models = append(models, api.ModelInfo{ID: model.Name, Name: model.DisplayName})
	}
	return models, nil
}

// Generate runs one non-streaming GenerateContent round. The system
// message maps to SystemInstruction, tool results to FunctionResponse
// parts and tool schemas to FunctionDeclarations.
func (g *Gemini) Generate(ctx context.Context, req api.GenerateRequest) (*api.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = g.config.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model specified and no default configured: %w", api.ErrValidation)
	}

	contents, systemInstruction := convertMessages(req.Messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		cfg.Tools = tools
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	out := &api.GenerateResponse{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			input := part.FunctionCall.Args
			if input == nil {
				input = map[string]any{}
			}
			id := part.FunctionCall.ID
			if id == "" {
				// The API frequently omits call ids; synthesize one so
				// result correlation stays intact.
				id = fmt.Sprintf("%s-%d", part.FunctionCall.Name, len(out.ToolCalls))
			}
			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		}
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &api.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func convertMessages(messages []api.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range messages {
		switch m.Role {
		case api.RoleSystem:
			if m.Content != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			}
		case api.RoleTool:
			// Tool results travel as user-role FunctionResponse parts.
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.ToolName,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		case api.RoleAssistant:
			var parts []*genai.Part
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Input},
				})
			}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		default: // user
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: img.MimeType, Data: img.Data},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "user", Parts: parts})
			}
		}
	}
	return contents, systemInstruction
}

func convertTools(tools []api.ToolSchema) ([]*genai.Tool, error) {
	var fds []*genai.FunctionDeclaration
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		// Bridge the generic JSON schema into the SDK's typed Schema.
		schemaB, err := json.Marshal(t.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		var schema genai.Schema
		if err := json.Unmarshal(schemaB, &schema); err != nil {
			return nil, fmt.Errorf("convert schema for %s: %w", t.Name, err)
		}
		fd.Parameters = &schema
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		return nil, nil
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}, nil
}
