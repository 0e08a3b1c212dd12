// Package openai implements the model capability against the OpenAI
// chat completions API (and any compatible endpoint via base_url).
package openai

import (
	"context"
	"encoding/base64"
	"fmt"

	"axon/pkg/api"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the connection settings for one OpenAI-compatible backend.
type Config struct {
	APIKey string `json:"api_key"`
	// BaseURL points the client at a compatible endpoint. Empty uses the
	// official API.
	BaseURL string `json:"base_url"`
	// DefaultModel is used when a request does not name a model.
	DefaultModel string `json:"default_model"`
	// Temperature is applied to every request when non-nil.
	Temperature *float64 `json:"temperature"`
}

// OpenAI is the OpenAI implementation of the model capability.
type OpenAI struct {
	config Config
	client openai.Client
}

// New builds a client from the instance config.
func New(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing openai api key: %w", api.ErrValidation)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{config: cfg, client: openai.NewClient(opts...)}, nil
}

// Shutdown implements the plugin lifecycle; the client holds no
// persistent connections.
func (o *OpenAI) Shutdown(_ context.Context) error { return nil }

// ListModels enumerates the models the backend offers.
func (o *OpenAI) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	page, err := o.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai list models: %w", err)
	}
	models := make([]api.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, api.ModelInfo{ID: m.ID})
	}
	return models, nil
}

// Generate produces one completion, mapping the transcript and tool
// schemas to the chat completions wire format and normalizing the
// answer back.
func (o *OpenAI) Generate(ctx context.Context, req api.GenerateRequest) (*api.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = o.config.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model specified and no default configured: %w", api.ErrValidation)
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if o.config.Temperature != nil {
		params.Temperature = openai.Float(*o.config.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := completion.Choices[0]
	resp := &api.GenerateResponse{Content: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		call := api.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
		}
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.UnmarshalFromString(tc.Function.Arguments, &input); err != nil {
				return nil, fmt.Errorf("openai tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		call.Input = input
		resp.ToolCalls = append(resp.ToolCalls, call)
	}

	if completion.Usage.TotalTokens > 0 {
		resp.Usage = &api.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func convertMessages(messages []api.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case api.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case api.RoleUser:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				break
			}
			parts := []openai.ChatCompletionContentPartUnionParam{}
			if m.Content != "" {
				parts = append(parts, openai.TextContentPart(m.Content))
			}
			for _, img := range m.Images {
				dataURL := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}))
			}
			out = append(out, openai.UserMessage(parts))
		case api.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				break
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.MarshalToString(tc.Input)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case api.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func convertTools(tools []api.ToolSchema) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.JSONSchema()),
		}))
	}
	return out
}
