package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"axon/pkg/agent"
	"axon/pkg/api"
	"axon/pkg/plugin"
	"axon/pkg/store"

	jsoniter "github.com/json-iterator/go"
)

// stubChannel records outbound traffic for assertions.
type stubChannel struct {
	mu     sync.Mutex
	events chan api.InboundMessage
	sent   []api.OutboundMessage
	typing int
}

func (s *stubChannel) Connect(_ context.Context) error {
	s.events = make(chan api.InboundMessage, 8)
	return nil
}

func (s *stubChannel) Disconnect(_ context.Context) error {
	if s.events != nil {
		close(s.events)
		s.events = nil
	}
	return nil
}

func (s *stubChannel) Events() <-chan api.InboundMessage { return s.events }

func (s *stubChannel) Send(_ context.Context, msg api.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubChannel) SendTyping(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing++
	return nil
}

func (s *stubChannel) Shutdown(_ context.Context) error { return nil }

func (s *stubChannel) outbound() []api.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.OutboundMessage(nil), s.sent...)
}

// stubModel answers with a fixed prefix plus the last user message and
// records every request.
type stubModel struct {
	mu       sync.Mutex
	requests []api.GenerateRequest
	fail     bool
}

func (m *stubModel) Shutdown(_ context.Context) error { return nil }

func (m *stubModel) ListModels(_ context.Context) ([]api.ModelInfo, error) {
	return []api.ModelInfo{{ID: "stub"}}, nil
}

func (m *stubModel) Generate(_ context.Context, req api.GenerateRequest) (*api.GenerateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.fail {
		return nil, context.DeadlineExceeded
	}
	last := req.Messages[len(req.Messages)-1]
	return &api.GenerateResponse{Content: "reply to: " + last.Content}, nil
}

func (m *stubModel) calls() []api.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.GenerateRequest(nil), m.requests...)
}

type harness struct {
	handler *Handler
	channel *stubChannel
	model   *stubModel
	store   *store.Memory
}

// newHarness wires a handler with one channel instance ("chan-1") and
// one model instance ("prov-1"). bind controls whether an assistant is
// bound to the channel.
func newHarness(t *testing.T, bind bool, opts ...HandlerOption) *harness {
	t.Helper()
	ctx := context.Background()

	ch := &stubChannel{}
	model := &stubModel{}

	registry := plugin.NewRegistry(nil)
	plugin.RegisterType("stub-channel-"+t.Name(), plugin.FactoryFunc(func(_ jsoniter.RawMessage) (api.Plugin, error) {
		return ch, nil
	}))
	plugin.RegisterType("stub-model-"+t.Name(), plugin.FactoryFunc(func(_ jsoniter.RawMessage) (api.Plugin, error) {
		return model, nil
	}))
	if _, err := registry.AddInstance(ctx, "stub-channel-"+t.Name(), nil, "chan-1"); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if _, err := registry.AddInstance(ctx, "stub-model-"+t.Name(), nil, "prov-1"); err != nil {
		t.Fatalf("add model: %v", err)
	}

	mem := store.NewMemory()
	if err := mem.SaveAssistant(ctx, api.AssistantConfig{
		ID:            "asst-1",
		LLMProviderID: "prov-1",
		LLMModel:      "stub",
		SystemPrompt:  "Be brief.",
	}); err != nil {
		t.Fatalf("save assistant: %v", err)
	}
	if bind {
		if err := mem.BindChannel(ctx, "chan-1", "asst-1"); err != nil {
			t.Fatalf("bind channel: %v", err)
		}
	}

	engine := agent.NewEngine(registry, mem, nil)
	h := NewHandler(registry, engine, mem, mem, nil, opts...)
	registry.SetDispatcher(h)

	return &harness{handler: h, channel: ch, model: model, store: mem}
}

func TestUnboundChannelGetsSingleNotice(t *testing.T) {
	h := newHarness(t, false)

	h.handler.HandleInbound(context.Background(), "chan-1", api.InboundMessage{
		ExternalChannelID: "42",
		UserID:            "u1",
		Content:           "hello?",
	})

	sent := h.channel.outbound()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 outbound notice, got %d", len(sent))
	}
	if sent[0].Content != notConfiguredNotice {
		t.Fatalf("notice = %q", sent[0].Content)
	}
	if calls := h.model.calls(); len(calls) != 0 {
		t.Fatalf("model must not be called without a bound assistant, got %d calls", len(calls))
	}
}

func TestHappyPathRepliesAndPersists(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{
		ExternalChannelID: "42",
		UserID:            "u1",
		Content:           "hello",
	})

	sent := h.channel.outbound()
	if len(sent) != 1 || sent[0].Content != "reply to: hello" {
		t.Fatalf("outbound = %+v", sent)
	}
	if sent[0].ExternalChannelID != "42" {
		t.Fatalf("reply routed to %q, want 42", sent[0].ExternalChannelID)
	}

	// The exchange lands in the durable transcript.
	persisted, err := h.store.ChannelMessages(ctx, "chan-1", "42")
	if err != nil {
		t.Fatalf("ChannelMessages: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d messages", len(persisted))
	}
	if persisted[0].Role != api.RoleUser || persisted[1].Role != api.RoleAssistant {
		t.Fatalf("persisted roles = %s, %s", persisted[0].Role, persisted[1].Role)
	}
}

func TestRollingContextFeedsNextTurn(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Content: "first"})
	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Content: "second"})

	calls := h.model.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(calls))
	}

	// Second turn carries the first exchange ahead of the new message.
	var roles []string
	var contents []string
	for _, m := range calls[1].Messages {
		roles = append(roles, m.Role)
		contents = append(contents, m.Content)
	}
	want := []string{api.RoleSystem, api.RoleUser, api.RoleAssistant, api.RoleUser}
	if len(roles) != len(want) {
		t.Fatalf("second turn roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("second turn roles = %v, want %v", roles, want)
		}
	}
	if contents[1] != "first" || contents[3] != "second" {
		t.Fatalf("second turn contents = %v", contents)
	}

	// Conversations on another external channel stay isolated.
	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "99", Content: "other"})
	calls = h.model.calls()
	third := calls[2].Messages
	if len(third) != 2 { // system + user only
		t.Fatalf("fresh channel saw %d messages, want 2", len(third))
	}
}

func TestResetCommandClearsContext(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Content: "remember me"})
	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Command: "reset"})
	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Content: "who am i"})

	calls := h.model.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls (command makes none), got %d", len(calls))
	}
	// Post-reset turn starts fresh: system + new user message only.
	if len(calls[1].Messages) != 2 {
		t.Fatalf("post-reset turn saw %d messages, want 2", len(calls[1].Messages))
	}

	sent := h.channel.outbound()
	var sawReset bool
	for _, m := range sent {
		if strings.Contains(m.Content, "Context cleared") {
			sawReset = true
		}
	}
	if !sawReset {
		t.Fatalf("no reset confirmation in %+v", sent)
	}
}

func TestUnknownCommandNotice(t *testing.T) {
	h := newHarness(t, true)

	h.handler.HandleInbound(context.Background(), "chan-1", api.InboundMessage{ExternalChannelID: "42", Command: "dance"})

	sent := h.channel.outbound()
	if len(sent) != 1 || !strings.Contains(sent[0].Content, "Unknown command: /dance") {
		t.Fatalf("outbound = %+v", sent)
	}
}

func TestGenerationFailureSendsNoticeAndSkipsPersistence(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.model.fail = true

	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Content: "hello"})

	sent := h.channel.outbound()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].Content, "❌") {
		t.Fatalf("outbound = %+v", sent)
	}
	persisted, _ := h.store.ChannelMessages(ctx, "chan-1", "42")
	if len(persisted) != 0 {
		t.Fatalf("failed exchanges must not persist, got %d messages", len(persisted))
	}

	// The failed turn leaves no trace in the rolling context either.
	h.model.fail = false
	h.handler.HandleInbound(ctx, "chan-1", api.InboundMessage{ExternalChannelID: "42", Content: "retry"})
	calls := h.model.calls()
	lastCall := calls[len(calls)-1].Messages
	if len(lastCall) != 2 {
		t.Fatalf("retry turn saw %d messages, want 2", len(lastCall))
	}
}

func TestTypingHeartbeatRepeats(t *testing.T) {
	h := newHarness(t, true, WithTypingInterval(10*time.Millisecond))

	stop := h.handler.startTypingHeartbeat(h.channel, "42")
	time.Sleep(50 * time.Millisecond)
	stop()
	stop() // idempotent

	h.channel.mu.Lock()
	typed := h.channel.typing
	h.channel.mu.Unlock()
	if typed < 2 {
		t.Fatalf("expected repeated typing signals, got %d", typed)
	}

	time.Sleep(30 * time.Millisecond)
	h.channel.mu.Lock()
	after := h.channel.typing
	h.channel.mu.Unlock()
	if after > typed+1 {
		t.Fatalf("typing continued after stop: %d -> %d", typed, after)
	}
}

func TestContextCacheBounds(t *testing.T) {
	c := newContextCache(4, time.Hour)
	key := cacheKey{instanceID: "i", externalID: "e"}

	for i := 0; i < 10; i++ {
		c.Append(key, api.NewUserMessage("m"))
	}
	got := c.Snapshot(key)
	if len(got) != 4 {
		t.Fatalf("window size = %d, want 4", len(got))
	}

	// Snapshot returns a copy; mutating it leaves the cache intact.
	got[0].Content = "tampered"
	if c.Snapshot(key)[0].Content == "tampered" {
		t.Fatal("snapshot aliases cache storage")
	}

	c.Clear(key)
	if c.Snapshot(key) != nil {
		t.Fatal("expected nil after clear")
	}
}

func TestContextCacheTTL(t *testing.T) {
	c := newContextCache(10, 20*time.Millisecond)
	key := cacheKey{instanceID: "i", externalID: "e"}

	c.Append(key, api.NewUserMessage("m"))
	if len(c.Snapshot(key)) != 1 {
		t.Fatal("expected fresh entry")
	}
	time.Sleep(40 * time.Millisecond)
	if c.Snapshot(key) != nil {
		t.Fatal("expected entry expired after TTL")
	}
}

func TestExtractImageArtifacts(t *testing.T) {
	usages := []api.ToolUsageRecord{
		{ToolName: "a", Output: map[string]any{"images": []any{"https://example.com/x.png", "https://example.com/y.jpg"}}},
		{ToolName: "b", Output: map[string]any{"image_url": "https://example.com/z.webp"}},
		{ToolName: "c", Output: "plain text"},
		{ToolName: "d", Output: map[string]any{"images": []any{42}}},
	}

	atts := extractImageArtifacts(usages)
	if len(atts) != 3 {
		t.Fatalf("expected 3 attachments, got %d", len(atts))
	}
	if atts[0].URL != "https://example.com/x.png" || atts[0].Filename != "x.png" {
		t.Fatalf("attachment[0] = %+v", atts[0])
	}
	if atts[2].Filename != "z.webp" {
		t.Fatalf("attachment[2] = %+v", atts[2])
	}
}
