// Package handler consumes inbound channel events and runs them through
// the agentic engine: assistant resolution, rolling context, typing
// heartbeat, reply dispatch and durable persistence of the exchange.
package handler

import (
	"context"
	"log/slog"
	"time"

	"axon/pkg/agent"
	"axon/pkg/api"
	"axon/pkg/metrics"
	"axon/pkg/plugin"
	"axon/pkg/store"
)

const (
	// DefaultContextWindow bounds the rolling per-channel context cache.
	DefaultContextWindow = 30

	// DefaultContextTTL evicts stale context on low-traffic channels.
	DefaultContextTTL = 30 * time.Minute

	// DefaultTypingInterval is the heartbeat period for platform typing
	// indicators while a response is being generated.
	DefaultTypingInterval = 8 * time.Second
)

const notConfiguredNotice = "⚠️ No assistant is configured for this channel yet."

// Handler is the per-event pipeline behind every connected channel
// instance. It implements plugin.Dispatcher.
type Handler struct {
	registry       *plugin.Registry
	engine         *agent.Engine
	config         store.ConfigStore
	conversations  store.ConversationStore
	cache          *contextCache
	typingInterval time.Duration
	logger         *slog.Logger
}

// HandlerOption adjusts handler construction.
type HandlerOption func(*Handler)

// WithContextWindow overrides the rolling cache size and TTL.
func WithContextWindow(limit int, ttl time.Duration) HandlerOption {
	return func(h *Handler) { h.cache = newContextCache(limit, ttl) }
}

// WithTypingInterval overrides the typing heartbeat period.
func WithTypingInterval(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.typingInterval = d
		}
	}
}

// NewHandler wires the pipeline against its collaborators.
func NewHandler(registry *plugin.Registry, engine *agent.Engine, config store.ConfigStore, conversations store.ConversationStore, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry:       registry,
		engine:         engine,
		config:         config,
		conversations:  conversations,
		cache:          newContextCache(DefaultContextWindow, DefaultContextTTL),
		typingInterval: DefaultTypingInterval,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleInbound processes one inbound channel event end to end. Failures
// during generation produce a best-effort error notice through the
// channel and skip persistence; the typing heartbeat stops on every
// exit path.
func (h *Handler) HandleInbound(ctx context.Context, channelInstanceID string, msg api.InboundMessage) {
	metrics.IncInbound(channelInstanceID)
	start := time.Now()

	h.logger.Info("Message received",
		"instance", channelInstanceID,
		"channel", msg.ExternalChannelID,
		"user", msg.Username,
		"images", len(msg.Images),
	)

	ch, err := h.registry.Channel(channelInstanceID)
	if err != nil {
		// The instance vanished between event delivery and dispatch;
		// nothing to reply through.
		h.logger.Warn("Originating channel unavailable", "instance", channelInstanceID, "error", err)
		return
	}

	if msg.Command != "" {
		h.handleCommand(ctx, ch, channelInstanceID, msg)
		return
	}

	assistantID, err := h.config.AssistantForChannel(ctx, channelInstanceID)
	if err != nil {
		h.logger.Error("Assistant lookup failed", "instance", channelInstanceID, "error", err)
		h.sendNotice(ctx, ch, msg.ExternalChannelID, "❌ Internal error while resolving the assistant.")
		return
	}
	if assistantID == "" {
		h.sendNotice(ctx, ch, msg.ExternalChannelID, notConfiguredNotice)
		return
	}

	key := cacheKey{instanceID: channelInstanceID, externalID: msg.ExternalChannelID}

	userMsg := api.NewUserMessage(msg.Content)
	userMsg.Images = msg.Images

	messages := append(h.cache.Snapshot(key), userMsg)

	tc := api.ToolContext{
		UserID:    msg.UserID,
		ChannelID: msg.ExternalChannelID,
		Platform:  instancePlatform(h.registry, channelInstanceID),
		Message:   msg.Content,
	}

	stopTyping := h.startTypingHeartbeat(ch, msg.ExternalChannelID)
	defer stopTyping()

	result, err := h.engine.GenerateForAssistant(ctx, assistantID, messages, tc)
	stopTyping()
	if err != nil {
		h.logger.Error("Generation failed", "instance", channelInstanceID, "assistant", assistantID, "error", err)
		h.sendNotice(ctx, ch, msg.ExternalChannelID, "❌ I could not generate a response, please try again.")
		return
	}

	assistantMsg := api.NewAssistantMessage(result.Response.Content)

	out := api.OutboundMessage{
		ExternalChannelID: msg.ExternalChannelID,
		Content:           result.Response.Content,
		Attachments:       extractImageArtifacts(result.ToolUsages),
	}
	if err := ch.Send(ctx, out); err != nil {
		h.logger.Error("Reply dispatch failed", "instance", channelInstanceID, "error", err)
	}

	h.cache.Append(key, userMsg, assistantMsg)
	h.persistExchange(ctx, channelInstanceID, msg.ExternalChannelID, userMsg, assistantMsg, result.ToolUsages)

	h.logger.Info("Message handled",
		"instance", channelInstanceID,
		"channel", msg.ExternalChannelID,
		"tool_calls", len(result.ToolUsages),
		"duration", time.Since(start).String(),
	)
}

// handleCommand serves the small built-in slash-command set.
func (h *Handler) handleCommand(ctx context.Context, ch api.Channel, channelInstanceID string, msg api.InboundMessage) {
	switch msg.Command {
	case "reset":
		h.cache.Clear(cacheKey{instanceID: channelInstanceID, externalID: msg.ExternalChannelID})
		h.sendNotice(ctx, ch, msg.ExternalChannelID, "🧹 Context cleared.")
	case "help":
		h.sendNotice(ctx, ch, msg.ExternalChannelID, "Available commands: /reset — clear the rolling context, /help — this message.")
	default:
		h.sendNotice(ctx, ch, msg.ExternalChannelID, "❌ Unknown command: /"+msg.Command)
	}
}

// startTypingHeartbeat emits a typing indicator immediately and then on a
// fixed interval until the returned stop function is called. Stop is
// idempotent so it can sit in a defer and on the happy path both.
func (h *Handler) startTypingHeartbeat(ch api.Channel, externalChannelID string) func() {
	hbCtx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(h.typingInterval)
		defer ticker.Stop()

		if err := ch.SendTyping(hbCtx, externalChannelID); err != nil {
			h.logger.Debug("Typing indicator failed", "channel", externalChannelID, "error", err)
		}
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := ch.SendTyping(hbCtx, externalChannelID); err != nil {
					h.logger.Debug("Typing indicator failed", "channel", externalChannelID, "error", err)
				}
			}
		}
	}()

	return cancel
}

// persistExchange writes the durable transcript: the user and assistant
// messages plus one tool-role entry per tool call for auditability.
func (h *Handler) persistExchange(ctx context.Context, channelInstanceID, externalChannelID string, userMsg, assistantMsg api.Message, usages []api.ToolUsageRecord) {
	entries := make([]api.Message, 0, 2+len(usages))
	entries = append(entries, userMsg)
	for _, u := range usages {
		entries = append(entries, api.Message{
			Role:      api.RoleTool,
			ToolName:  u.ToolName,
			Content:   stringifyUsage(u),
			Timestamp: time.Now().Unix(),
		})
	}
	entries = append(entries, assistantMsg)

	if err := h.conversations.AppendChannelMessages(ctx, channelInstanceID, externalChannelID, entries); err != nil {
		h.logger.Error("Transcript persistence failed", "instance", channelInstanceID, "channel", externalChannelID, "error", err)
	}
}

func (h *Handler) sendNotice(ctx context.Context, ch api.Channel, externalChannelID, text string) {
	if err := ch.Send(ctx, api.OutboundMessage{ExternalChannelID: externalChannelID, Content: text}); err != nil {
		h.logger.Error("Notice dispatch failed", "channel", externalChannelID, "error", err)
	}
}

func instancePlatform(registry *plugin.Registry, instanceID string) string {
	if desc, ok := registry.Get(instanceID); ok {
		return desc.Type
	}
	return ""
}
