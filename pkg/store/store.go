// Package store defines the persistence boundary consumed by the
// orchestration core: assistant configuration, conversation transcripts
// and automation records. Two implementations ship with the engine, an
// in-memory store (tests, default boot) and a SQLite-backed one.
package store

import (
	"context"

	"axon/pkg/api"
)

// ConfigStore resolves assistant configuration and channel bindings.
// The orchestration core only ever reads from it.
type ConfigStore interface {
	// Assistant returns the configuration for an assistant id.
	// Returns api.ErrNotFound for unknown ids.
	Assistant(ctx context.Context, id string) (api.AssistantConfig, error)

	// Assistants lists every stored assistant configuration.
	Assistants(ctx context.Context) ([]api.AssistantConfig, error)

	// SaveAssistant inserts or replaces an assistant configuration.
	SaveAssistant(ctx context.Context, cfg api.AssistantConfig) error

	// AssistantForChannel returns the assistant id bound to a channel
	// instance, or "" when no assistant is bound.
	AssistantForChannel(ctx context.Context, channelInstanceID string) (string, error)

	// BindChannel binds a channel instance to an assistant id.
	BindChannel(ctx context.Context, channelInstanceID, assistantID string) error
}

// ConversationStore appends transcript entries to durable conversation
// records. Channel conversations are keyed by (channel instance id,
// external channel id); direct chats by conversation id.
type ConversationStore interface {
	AppendChannelMessages(ctx context.Context, channelInstanceID, externalChannelID string, msgs []api.Message) error
	AppendConversationMessages(ctx context.Context, conversationID string, msgs []api.Message) error

	// ChannelMessages reads back the stored transcript for a channel
	// conversation, oldest first.
	ChannelMessages(ctx context.Context, channelInstanceID, externalChannelID string) ([]api.Message, error)
}

// AutomationStore persists automation records and their bounded
// execution history.
type AutomationStore interface {
	// Automation returns one record. Returns api.ErrNotFound for
	// unknown ids.
	Automation(ctx context.Context, id string) (api.Automation, error)

	// Automations lists every stored automation.
	Automations(ctx context.Context) ([]api.Automation, error)

	// SaveAutomation inserts or replaces an automation record.
	SaveAutomation(ctx context.Context, a api.Automation) error

	// AppendExecution appends one execution to the record's history,
	// evicting the oldest entries beyond maxExecutions.
	AppendExecution(ctx context.Context, id string, exec api.Execution, maxExecutions int) error
}

// Store is the full persistence surface the engine is wired against.
type Store interface {
	ConfigStore
	ConversationStore
	AutomationStore
}
