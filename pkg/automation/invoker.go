// Package automation runs stored prompts through the agentic engine on a
// cron schedule (or on demand), records a bounded execution history and
// delivers results through the configured channel instance.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"axon/pkg/agent"
	"axon/pkg/api"
	"axon/pkg/metrics"
	"axon/pkg/plugin"
	"axon/pkg/store"

	"github.com/robfig/cron/v3"
)

// DefaultMaxExecutions caps each automation's stored run history.
const DefaultMaxExecutions = 10

// PlatformName is the ToolContext platform reported for automation runs.
const PlatformName = "automation"

// Invoker is the non-interactive caller of the generation entry point.
type Invoker struct {
	engine        *agent.Engine
	registry      *plugin.Registry
	config        store.ConfigStore
	automations   store.AutomationStore
	maxExecutions int
	logger        *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID // automation id -> scheduled entry
}

// InvokerOption adjusts invoker construction.
type InvokerOption func(*Invoker)

// WithMaxExecutions overrides the execution-history cap.
func WithMaxExecutions(n int) InvokerOption {
	return func(i *Invoker) {
		if n > 0 {
			i.maxExecutions = n
		}
	}
}

// NewInvoker wires the invoker against its collaborators.
func NewInvoker(engine *agent.Engine, registry *plugin.Registry, config store.ConfigStore, automations store.AutomationStore, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invoker{
		engine:        engine,
		registry:      registry,
		config:        config,
		automations:   automations,
		maxExecutions: DefaultMaxExecutions,
		logger:        logger,
		cron:          cron.New(),
		entries:       make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Start schedules every enabled stored automation and starts the cron
// runner. Scheduling failures are logged per record and skipped, so one
// bad cron expression never blocks the rest.
func (i *Invoker) Start(ctx context.Context) error {
	records, err := i.automations.Automations(ctx)
	if err != nil {
		return fmt.Errorf("load automations: %w", err)
	}

	for _, a := range records {
		if !a.Enabled {
			continue
		}
		if err := i.schedule(a); err != nil {
			i.logger.Error("Automation scheduling failed", "id", a.ID, "cron", a.Cron, "error", err)
		}
	}

	i.cron.Start()
	i.logger.Info("Automation scheduler started", "scheduled", len(i.entries))
	return nil
}

// Stop halts the cron runner and waits for in-flight runs to finish.
func (i *Invoker) Stop() {
	stopCtx := i.cron.Stop()
	<-stopCtx.Done()
}

// Reschedule replaces the schedule for one automation after it changed.
// Disabled automations are simply descheduled.
func (i *Invoker) Reschedule(a api.Automation) error {
	i.mu.Lock()
	if entryID, ok := i.entries[a.ID]; ok {
		i.cron.Remove(entryID)
		delete(i.entries, a.ID)
	}
	i.mu.Unlock()

	if !a.Enabled {
		return nil
	}
	return i.schedule(a)
}

func (i *Invoker) schedule(a api.Automation) error {
	id := a.ID
	entryID, err := i.cron.AddFunc(a.Cron, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := i.RunNow(runCtx, id); err != nil {
			i.logger.Error("Scheduled automation failed", "id", id, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron %q: %w", a.Cron, err)
	}

	i.mu.Lock()
	i.entries[id] = entryID
	i.mu.Unlock()
	return nil
}

// RunNow executes one automation immediately: it builds the one-shot
// message list from the stored prompt, runs the assistant's full tool
// set through the agentic loop, appends the execution record and
// delivers the result through the automation's delivery channel.
func (i *Invoker) RunNow(ctx context.Context, automationID string) (api.Execution, error) {
	a, err := i.automations.Automation(ctx, automationID)
	if err != nil {
		return api.Execution{}, err
	}
	if a.DeliveryChannelID == "" || a.DeliveryChatID == "" {
		return api.Execution{}, fmt.Errorf("automation %q has no delivery target: %w", automationID, api.ErrValidation)
	}

	tc := api.ToolContext{
		Platform:  PlatformName,
		ChannelID: a.DeliveryChatID,
		Message:   a.Prompt,
	}

	start := time.Now()
	exec := api.Execution{StartedAt: start}

	result, err := i.engine.GenerateForAssistant(ctx, a.AssistantID, []api.Message{api.NewUserMessage(a.Prompt)}, tc)
	exec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		exec.Success = false
		exec.Error = err.Error()
		metrics.IncAutomation("error")
	} else {
		exec.Success = true
		exec.Output = result.Response.Content
		metrics.IncAutomation("ok")
	}

	if appendErr := i.automations.AppendExecution(ctx, automationID, exec, i.maxExecutions); appendErr != nil {
		i.logger.Error("Execution history write failed", "id", automationID, "error", appendErr)
	}

	if err != nil {
		i.logger.Error("Automation run failed", "id", automationID, "error", err)
		return exec, err
	}

	i.deliver(ctx, a, result.Response.Content)

	i.logger.Info("Automation run finished", "id", automationID, "duration", time.Since(start).String(), "tool_calls", len(result.ToolUsages))
	return exec, nil
}

// deliver sends the run output through the automation's delivery channel.
// Delivery failures are recorded in the log but do not fail the run; the
// execution history already holds the output.
func (i *Invoker) deliver(ctx context.Context, a api.Automation, content string) {
	ch, err := i.registry.Channel(a.DeliveryChannelID)
	if err != nil {
		i.logger.Error("Delivery channel unavailable", "id", a.ID, "channel_instance", a.DeliveryChannelID, "error", err)
		return
	}
	out := api.OutboundMessage{ExternalChannelID: a.DeliveryChatID, Content: content}
	if err := ch.Send(ctx, out); err != nil {
		i.logger.Error("Automation delivery failed", "id", a.ID, "error", err)
	}
}
