package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"axon/pkg/api"
)

func TestAssistantRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Assistant(ctx, "missing"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	cfg := api.AssistantConfig{
		ID:              "asst-1",
		Name:            "helper",
		LLMProviderID:   "prov-1",
		LLMModel:        "m1",
		ToolProviderIDs: []string{"tools-1"},
	}
	if err := m.SaveAssistant(ctx, cfg); err != nil {
		t.Fatalf("SaveAssistant: %v", err)
	}

	got, err := m.Assistant(ctx, "asst-1")
	if err != nil {
		t.Fatalf("Assistant: %v", err)
	}
	if got.Name != "helper" || got.LLMModel != "m1" {
		t.Fatalf("got = %+v", got)
	}

	// Save is an upsert.
	cfg.LLMModel = "m2"
	if err := m.SaveAssistant(ctx, cfg); err != nil {
		t.Fatalf("SaveAssistant update: %v", err)
	}
	got, _ = m.Assistant(ctx, "asst-1")
	if got.LLMModel != "m2" {
		t.Fatalf("update lost, model = %q", got.LLMModel)
	}

	all, err := m.Assistants(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("Assistants = %v, %v", all, err)
	}
}

func TestSaveAssistantRejectsEmptyID(t *testing.T) {
	m := NewMemory()
	err := m.SaveAssistant(context.Background(), api.AssistantConfig{})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestChannelBindings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Unbound channels resolve to the empty id, not an error.
	id, err := m.AssistantForChannel(ctx, "chan-1")
	if err != nil || id != "" {
		t.Fatalf("unbound lookup = %q, %v", id, err)
	}

	if err := m.BindChannel(ctx, "chan-1", "asst-1"); err != nil {
		t.Fatalf("BindChannel: %v", err)
	}
	id, _ = m.AssistantForChannel(ctx, "chan-1")
	if id != "asst-1" {
		t.Fatalf("bound lookup = %q", id)
	}

	// Rebinding replaces.
	if err := m.BindChannel(ctx, "chan-1", "asst-2"); err != nil {
		t.Fatalf("BindChannel rebind: %v", err)
	}
	id, _ = m.AssistantForChannel(ctx, "chan-1")
	if id != "asst-2" {
		t.Fatalf("rebound lookup = %q", id)
	}
}

func TestChannelTranscriptIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.AppendChannelMessages(ctx, "chan-1", "42", []api.Message{
		api.NewUserMessage("hi"),
		api.NewAssistantMessage("hello"),
	}); err != nil {
		t.Fatalf("AppendChannelMessages: %v", err)
	}
	if err := m.AppendChannelMessages(ctx, "chan-1", "99", []api.Message{
		api.NewUserMessage("other room"),
	}); err != nil {
		t.Fatalf("AppendChannelMessages: %v", err)
	}

	got, err := m.ChannelMessages(ctx, "chan-1", "42")
	if err != nil {
		t.Fatalf("ChannelMessages: %v", err)
	}
	if len(got) != 2 || got[0].Content != "hi" || got[1].Content != "hello" {
		t.Fatalf("got = %+v", got)
	}

	other, _ := m.ChannelMessages(ctx, "chan-1", "99")
	if len(other) != 1 {
		t.Fatalf("external channels must not share transcripts, got %d", len(other))
	}

	// Reads return copies.
	got[0].Content = "tampered"
	fresh, _ := m.ChannelMessages(ctx, "chan-1", "42")
	if fresh[0].Content == "tampered" {
		t.Fatal("ChannelMessages aliases internal storage")
	}
}

func TestAutomationRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Automation(ctx, "missing"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.SaveAutomation(ctx, api.Automation{}); !errors.Is(err, api.ErrValidation) {
		t.Fatalf("empty id err = %v, want ErrValidation", err)
	}

	a := api.Automation{ID: "auto-1", Cron: "@daily", Prompt: "p", AssistantID: "asst-1", Enabled: true}
	if err := m.SaveAutomation(ctx, a); err != nil {
		t.Fatalf("SaveAutomation: %v", err)
	}
	got, err := m.Automation(ctx, "auto-1")
	if err != nil || got.Cron != "@daily" {
		t.Fatalf("Automation = %+v, %v", got, err)
	}
}

func TestAppendExecutionRing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.AppendExecution(ctx, "missing", api.Execution{}, 10); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := m.SaveAutomation(ctx, api.Automation{ID: "auto-1", Cron: "@daily", Prompt: "p", AssistantID: "a"}); err != nil {
		t.Fatalf("SaveAutomation: %v", err)
	}

	base := time.Now()
	for n := 0; n < 13; n++ {
		exec := api.Execution{StartedAt: base.Add(time.Duration(n) * time.Minute), Success: true}
		if err := m.AppendExecution(ctx, "auto-1", exec, 10); err != nil {
			t.Fatalf("AppendExecution #%d: %v", n, err)
		}
	}

	got, _ := m.Automation(ctx, "auto-1")
	if len(got.Executions) != 10 {
		t.Fatalf("history length = %d, want 10", len(got.Executions))
	}
	// Oldest entries fall off the front; newest is last.
	if !got.Executions[0].StartedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("oldest kept = %v", got.Executions[0].StartedAt)
	}
	if !got.Executions[9].StartedAt.Equal(base.Add(12 * time.Minute)) {
		t.Fatalf("newest kept = %v", got.Executions[9].StartedAt)
	}
}
