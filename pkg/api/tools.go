package api

import "context"

// ToolParameter describes a single parameter of a tool schema.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "number", "boolean", "object", "array"
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolSchema is the model-facing declaration of one tool. It is owned by
// the plugin that declares it and never mutated after declaration.
type ToolSchema struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Parameters       []ToolParameter `json:"parameters,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// JSONSchema renders the parameter list as a JSON Schema object of the
// shape LLM APIs expect for function declarations.
func (t ToolSchema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(t.Parameters))
	var required []string
	for _, p := range t.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolHandler executes one tool invocation. The returned value is
// serialized into the tool-role transcript entry by the caller.
type ToolHandler func(ctx context.Context, input map[string]any, tc ToolContext) (any, error)

// ToolWithHandler pairs a schema with its executable handler. The handler
// must never cross into the Model-facing projection; schemas sent to a
// Model are always the handler-stripped ToolSchema.
type ToolWithHandler struct {
	ToolSchema
	Handler ToolHandler `json:"-"`
}

// Schema returns the handler-stripped projection of the tool.
func (t ToolWithHandler) Schema() ToolSchema {
	return t.ToolSchema
}

// ToolContext carries per-invocation routing and identity information
// into tool handlers. It is constructed fresh per inbound event or per
// automation run and is never persisted or shared across invocations.
type ToolContext struct {
	UserID      string `json:"user_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Message     string `json:"message,omitempty"`
	AssistantID string `json:"assistant_id,omitempty"`
}

// ToolUsageRecord is the observability record produced for every tool
// call made during an agentic loop, successful or not.
type ToolUsageRecord struct {
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"input"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}
