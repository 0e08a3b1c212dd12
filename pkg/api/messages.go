package api

import "time"

// Role constants for conversation messages. The transcript sent to a Model
// is the literal insertion-ordered message list, so roles must be normalized
// to these values by every producer.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Images holds inline binary attachments. User messages only.
	Images []ImageAttachment `json:"images,omitempty"`

	// ToolCalls holds tool invocations requested by the model.
	// Assistant messages only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName correlate a tool result to its request.
	// Tool messages only.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// ToolCall is a single tool invocation requested by a model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ImageAttachment is an inline binary image carried on a user message.
type ImageAttachment struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// NewSystemMessage builds a system-role text message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now().Unix()}
}

// NewUserMessage builds a user-role text message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now().Unix()}
}

// NewAssistantMessage builds an assistant-role text message.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now().Unix()}
}

// NewToolResultMessage builds a tool-role message carrying the stringified
// result of one tool call.
func NewToolResultMessage(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Timestamp:  time.Now().Unix(),
	}
}

// InboundMessage is the normalized form of one event received from a
// Channel capability. Command is non-empty for slash-command events.
type InboundMessage struct {
	ExternalChannelID string            `json:"external_channel_id"`
	UserID            string            `json:"user_id"`
	Username          string            `json:"username,omitempty"`
	Content           string            `json:"content"`
	Images            []ImageAttachment `json:"images,omitempty"`
	Command           string            `json:"command,omitempty"`
}

// OutboundMessage is one reply dispatched through a Channel capability.
type OutboundMessage struct {
	ExternalChannelID string       `json:"external_channel_id"`
	Content           string       `json:"content"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// Attachment is a side artifact (typically an image extracted from a tool
// output) delivered alongside an outbound message. Either URL or Data is set.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
}
