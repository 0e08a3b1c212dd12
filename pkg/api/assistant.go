package api

import "time"

// AssistantConfig binds an LLM provider instance, a model id and a tool set
// into one addressable assistant. Owned by the configuration store; the
// orchestration core treats it as read-only.
type AssistantConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	LLMProviderID string   `json:"llm_provider_id"`
	LLMModel      string   `json:"llm_model"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`

	// ToolProviderIDs is the ordered set of instance ids whose Tooling
	// capability contributes to this assistant. Order matters: on tool
	// name collisions the later provider wins the reverse-index entry.
	ToolProviderIDs []string `json:"tool_provider_ids,omitempty"`

	MemoryEnabled bool `json:"memory_enabled,omitempty"`
}

// Automation is a stored non-interactive invocation: a cron expression,
// a prompt and an assistant to run it through. DeliveryChannelID and
// DeliveryChatID name the channel instance and external conversation the
// result is sent to; both are mandatory.
type Automation struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	Cron              string `json:"cron"`
	Prompt            string `json:"prompt"`
	AssistantID       string `json:"assistant_id"`
	DeliveryChannelID string `json:"delivery_channel_id"`
	DeliveryChatID    string `json:"delivery_chat_id"`
	Enabled           bool   `json:"enabled"`

	// Executions is the bounded run history, newest last.
	Executions []Execution `json:"executions,omitempty"`
}

// Execution is one entry of an automation's run history.
type Execution struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
}
