// Package agent implements the agentic tool-use orchestration loop: it
// alternates between calling a Model capability and executing the tools
// it requests, feeding normalized results back into the transcript until
// the model produces a terminal answer or the iteration cap is reached.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"axon/pkg/api"
	"axon/pkg/metrics"
	"axon/pkg/plugin"
	"axon/pkg/store"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxIterations bounds the cost and latency of one conversation
// turn. When the cap is hit the loop issues one final call with tools
// omitted so the caller always gets a usable response.
const DefaultMaxIterations = 10

// Engine drives the agentic loop against a plugin registry and an
// assistant configuration store.
type Engine struct {
	registry      *plugin.Registry
	config        store.ConfigStore
	maxIterations int
	logger        *slog.Logger
}

// Result is the outcome of one agentic loop invocation: the terminal
// model response plus the usage record of every tool call made along
// the way.
type Result struct {
	Response   *api.GenerateResponse `json:"response"`
	ToolUsages []api.ToolUsageRecord `json:"tool_usages"`
}

// EngineOption adjusts engine construction.
type EngineOption func(*Engine)

// WithMaxIterations overrides the default loop iteration cap.
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewEngine creates an Engine bound to the given registry and
// configuration store.
func NewEngine(registry *plugin.Registry, config store.ConfigStore, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		registry:      registry,
		config:        config,
		maxIterations: DefaultMaxIterations,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateForAssistant resolves the assistant configuration, resolves its
// tool set and runs the agentic loop. The assistant's system prompt is
// prepended unless the transcript already opens with a system message.
func (e *Engine) GenerateForAssistant(ctx context.Context, assistantID string, messages []api.Message, tc api.ToolContext) (*Result, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages are required: %w", api.ErrValidation)
	}

	assistant, err := e.config.Assistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}

	if assistant.SystemPrompt != "" && (len(messages) == 0 || messages[0].Role != api.RoleSystem) {
		messages = append([]api.Message{api.NewSystemMessage(assistant.SystemPrompt)}, messages...)
	}

	tools, owners := e.registry.ResolveTools(assistant.ToolProviderIDs)
	tc.AssistantID = assistant.ID

	return e.GenerateWithTools(ctx, assistant.LLMProviderID, assistant.LLMModel, messages, tools, owners, tc)
}

// GenerateForProvider is the no-tools path: one completion against a
// provider instance without any agentic behavior.
func (e *Engine) GenerateForProvider(ctx context.Context, providerID, model string, messages []api.Message) (*api.GenerateResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages are required: %w", api.ErrValidation)
	}

	m, err := e.registry.Model(providerID)
	if err != nil {
		return nil, err
	}

	resp, err := m.Generate(ctx, api.GenerateRequest{Model: model, Messages: messages})
	if err != nil {
		metrics.IncGenerate(providerID, "error")
		return nil, fmt.Errorf("provider %q generate: %w", providerID, err)
	}
	metrics.IncGenerate(providerID, "ok")
	return resp, nil
}

// GenerateWithTools runs the bounded agentic loop.
//
// Tool calls requested within one model turn execute strictly
// sequentially, in the order the model returned them: result messages
// must land in the transcript in a stable, reproducible order for the
// next model call, and concurrent execution would double-charge
// rate-limited backends. A handler failure never aborts the loop; it is
// converted to a structured failure payload the model can react to.
// Model-call failures do propagate to the caller.
func (e *Engine) GenerateWithTools(ctx context.Context, providerID, model string, messages []api.Message, tools []api.ToolSchema, owners map[string]string, tc api.ToolContext) (*Result, error) {
	m, err := e.registry.Model(providerID)
	if err != nil {
		return nil, err
	}

	usages := make([]api.ToolUsageRecord, 0)

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		metrics.IncLoopIteration()

		resp, err := m.Generate(ctx, api.GenerateRequest{Model: model, Messages: messages, Tools: tools})
		if err != nil {
			metrics.IncGenerate(providerID, "error")
			return nil, fmt.Errorf("provider %q generate: %w", providerID, err)
		}
		metrics.IncGenerate(providerID, "ok")

		if len(resp.ToolCalls) == 0 {
			return &Result{Response: resp, ToolUsages: usages}, nil
		}

		messages = append(messages, api.Message{
			Role:      api.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			record, resultMsg := e.runToolCall(ctx, call, owners, tc)
			usages = append(usages, record)
			messages = append(messages, resultMsg)
		}
	}

	// Cap reached: one final call with tools omitted forces a terminal
	// answer instead of surfacing the iteration limit to the user.
	e.logger.Warn("Iteration cap reached, forcing terminal response", "provider", providerID, "model", model, "cap", e.maxIterations)

	resp, err := m.Generate(ctx, api.GenerateRequest{Model: model, Messages: messages})
	if err != nil {
		metrics.IncGenerate(providerID, "error")
		return nil, fmt.Errorf("provider %q generate: %w", providerID, err)
	}
	metrics.IncGenerate(providerID, "ok")

	return &Result{Response: resp, ToolUsages: usages}, nil
}

// runToolCall executes one requested tool call and produces both its
// usage record and the tool-role transcript entry. All failure modes
// (unknown tool, veto, handler error, handler panic) end up as normal
// results here; nothing escapes to abort the loop.
func (e *Engine) runToolCall(ctx context.Context, call api.ToolCall, owners map[string]string, tc api.ToolContext) (api.ToolUsageRecord, api.Message) {
	record := api.ToolUsageRecord{ToolName: call.Name, Input: call.Input}

	var output any
	ownerID, known := owners[call.Name]
	if !known {
		output = map[string]any{"error": fmt.Sprintf("Unknown tool: %s", call.Name)}
		record.Error = fmt.Sprintf("Unknown tool: %s", call.Name)
		metrics.IncTool(call.Name, "unknown")
	} else {
		start := time.Now()
		result, err := e.ExecuteTool(ctx, ownerID, call, tc)
		record.DurationMs = time.Since(start).Milliseconds()
		metrics.ObserveToolDuration(call.Name, float64(record.DurationMs)/1000)

		if err != nil {
			e.logger.Error("Tool execution failed", "tool", call.Name, "instance", ownerID, "error", err)
			record.Error = err.Error()
			output = map[string]any{
				"success": false,
				"error":   err.Error(),
				"message": fmt.Sprintf("Tool %q failed, adjust the input or try another approach.", call.Name),
			}
			metrics.IncTool(call.Name, "error")
		} else {
			output = result
			metrics.IncTool(call.Name, "ok")
		}
	}
	record.Output = output

	return record, api.NewToolResultMessage(call, stringifyResult(output))
}

// stringifyResult renders a tool result for the transcript. Strings pass
// through as-is; everything else is JSON-encoded.
func stringifyResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return "(no output)"
	}
	encoded, err := json.MarshalToString(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return encoded
}
