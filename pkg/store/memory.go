package store

import (
	"context"
	"fmt"
	"sync"

	"axon/pkg/api"
)

// Memory is an in-process Store. It backs tests and configurations that
// run without a database; nothing survives a restart.
type Memory struct {
	mu            sync.RWMutex
	assistants    map[string]api.AssistantConfig
	bindings      map[string]string // channel instance id -> assistant id
	channelConvos map[convoKey][]api.Message
	directConvos  map[string][]api.Message
	automations   map[string]api.Automation
}

type convoKey struct {
	instanceID string
	externalID string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		assistants:    make(map[string]api.AssistantConfig),
		bindings:      make(map[string]string),
		channelConvos: make(map[convoKey][]api.Message),
		directConvos:  make(map[string][]api.Message),
		automations:   make(map[string]api.Automation),
	}
}

func (m *Memory) Assistant(_ context.Context, id string) (api.AssistantConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.assistants[id]
	if !ok {
		return api.AssistantConfig{}, fmt.Errorf("assistant %q: %w", id, api.ErrNotFound)
	}
	return cfg, nil
}

func (m *Memory) Assistants(_ context.Context) ([]api.AssistantConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.AssistantConfig, 0, len(m.assistants))
	for _, cfg := range m.assistants {
		out = append(out, cfg)
	}
	return out, nil
}

func (m *Memory) SaveAssistant(_ context.Context, cfg api.AssistantConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("assistant id is empty: %w", api.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants[cfg.ID] = cfg
	return nil
}

func (m *Memory) AssistantForChannel(_ context.Context, channelInstanceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bindings[channelInstanceID], nil
}

func (m *Memory) BindChannel(_ context.Context, channelInstanceID, assistantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[channelInstanceID] = assistantID
	return nil
}

func (m *Memory) AppendChannelMessages(_ context.Context, channelInstanceID, externalChannelID string, msgs []api.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := convoKey{instanceID: channelInstanceID, externalID: externalChannelID}
	m.channelConvos[key] = append(m.channelConvos[key], msgs...)
	return nil
}

func (m *Memory) AppendConversationMessages(_ context.Context, conversationID string, msgs []api.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directConvos[conversationID] = append(m.directConvos[conversationID], msgs...)
	return nil
}

func (m *Memory) ChannelMessages(_ context.Context, channelInstanceID, externalChannelID string) ([]api.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := convoKey{instanceID: channelInstanceID, externalID: externalChannelID}
	src := m.channelConvos[key]
	out := make([]api.Message, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) Automation(_ context.Context, id string) (api.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.automations[id]
	if !ok {
		return api.Automation{}, fmt.Errorf("automation %q: %w", id, api.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) Automations(_ context.Context) ([]api.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.Automation, 0, len(m.automations))
	for _, a := range m.automations {
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) SaveAutomation(_ context.Context, a api.Automation) error {
	if a.ID == "" {
		return fmt.Errorf("automation id is empty: %w", api.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.automations[a.ID] = a
	return nil
}

func (m *Memory) AppendExecution(_ context.Context, id string, exec api.Execution, maxExecutions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.automations[id]
	if !ok {
		return fmt.Errorf("automation %q: %w", id, api.ErrNotFound)
	}
	a.Executions = append(a.Executions, exec)
	if maxExecutions > 0 && len(a.Executions) > maxExecutions {
		a.Executions = a.Executions[len(a.Executions)-maxExecutions:]
	}
	m.automations[id] = a
	return nil
}

var _ Store = (*Memory)(nil)
