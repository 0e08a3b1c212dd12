package api

import "context"

// Capability identifies one of the contracts a plugin instance may implement.
// Capabilities are discovered once at load time and recorded on the instance
// descriptor; callers never probe the plugin object shape at dispatch time.
type Capability string

const (
	CapabilityChannel Capability = "channel" // bidirectional message platform
	CapabilityModel   Capability = "model"   // LLM completion backend
	CapabilityTooling Capability = "tooling" // invocable tool set
)

// Plugin is the minimal lifecycle contract every plugin instance implements.
// Shutdown must release all resources held by the instance; it is called
// exactly once, after the instance has been evicted from dispatch.
type Plugin interface {
	Shutdown(ctx context.Context) error
}

// Channel is the capability contract for communication platforms
// (chat apps, webhooks, games). A connected channel delivers inbound
// events through the stream returned by Events; the stream is closed
// by the plugin when Disconnect is called.
type Channel interface {
	// Connect establishes the platform connection and starts delivering
	// inbound events. It must be safe to call after a prior Disconnect.
	Connect(ctx context.Context) error

	// Disconnect tears down the platform connection and closes the
	// event stream. Calling Disconnect on a channel that never
	// connected is a no-op.
	Disconnect(ctx context.Context) error

	// Events returns the stream of inbound messages and slash commands.
	// The returned channel is owned by the plugin and closed on disconnect.
	Events() <-chan InboundMessage

	// Send delivers one outbound message (text plus optional attachments)
	// to an external conversation on the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// SendTyping emits a platform-native typing indicator for the given
	// external conversation. Platforms without the concept return nil.
	SendTyping(ctx context.Context, externalChannelID string) error
}

// Model is the capability contract for LLM completion backends.
type Model interface {
	// ListModels enumerates the model ids the backend can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Generate produces one completion for the given transcript. When the
	// request carries tool schemas the backend may answer with tool calls
	// instead of (or in addition to) text content.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// ModelInfo describes one model offered by a Model capability instance.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// GenerateRequest is the input to a single Model completion call.
type GenerateRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Tools    []ToolSchema `json:"tools,omitempty"`
}

// GenerateResponse is the outcome of a single Model completion call.
// ToolCalls is empty when the model produced a terminal answer.
type GenerateResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// Usage carries normalized token accounting reported by a backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Tooling is the capability contract for plugins that contribute
// invocable tools to an assistant.
type Tooling interface {
	// Tools returns the tool set declared by this instance. Declarations
	// are stable for the lifetime of the instance object.
	Tools() []ToolWithHandler
}

// ApprovalGate is an optional extension of the Tooling capability for
// instances that want a human-approval hook in front of their handlers.
// Returning false vetoes the invocation; the veto is reported back to the
// model as a normal result, not an error.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, tool ToolSchema, input map[string]any, tc ToolContext) (bool, error)
}
