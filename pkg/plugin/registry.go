package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"axon/pkg/api"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Dispatcher consumes inbound events on behalf of connected channel
// instances. The registry attaches one consumer goroutine per connected
// channel, bound to that instance's id, and cancels it on disconnect
// or removal.
type Dispatcher interface {
	HandleInbound(ctx context.Context, channelInstanceID string, msg api.InboundMessage)
}

// Instance is the descriptor snapshot of one live plugin instance.
type Instance struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	DisplayName  string              `json:"display_name"`
	Enabled      bool                `json:"enabled"`
	Config       jsoniter.RawMessage `json:"config,omitempty"`
	Capabilities []api.Capability    `json:"capabilities"`
}

// entry is the live state backing one instance id.
type entry struct {
	desc   Instance
	plugin api.Plugin

	// capability views, discovered once at load time
	channel api.Channel
	model   api.Model
	tooling api.Tooling
	gate    api.ApprovalGate

	connected      bool
	cancelConsumer context.CancelFunc
}

// Registry is the in-memory mapping from instance id to live plugin
// objects. It is an explicit handle passed to every component that needs
// it, never a hidden singleton. All mutations are atomic with respect to
// concurrent dispatch: a removed instance mid-flight yields ErrNotFound
// at the next resolution point rather than a crash.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewRegistry creates an empty instance registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetDispatcher installs the inbound-event consumer used for channel
// instances. Must be set before channel instances are added.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

// Option adjusts how an instance is installed.
type Option func(*Instance)

// WithDisplayName sets a human-readable name on the descriptor.
func WithDisplayName(name string) Option {
	return func(inst *Instance) { inst.DisplayName = name }
}

// Disabled installs the instance with the enabled flag off. The plugin
// object is still constructed but never dispatched to.
func Disabled() Option {
	return func(inst *Instance) { inst.Enabled = false }
}

// AddInstance constructs a plugin object of the given catalog type and
// installs it under id (a fresh uuid when id is empty). If the id is
// already present the existing object is fully torn down first, so at
// most one live object exists per id at any time. Returns ErrNotFound
// when the type is unknown to the catalog.
func (r *Registry) AddInstance(ctx context.Context, pluginType string, rawConfig jsoniter.RawMessage, id string, opts ...Option) (Instance, error) {
	factory, ok := GetFactory(pluginType)
	if !ok {
		return Instance{}, fmt.Errorf("plugin type %q: %w", pluginType, api.ErrNotFound)
	}

	if id == "" {
		id = uuid.NewString()
	}

	desc := Instance{
		ID:          id,
		Type:        pluginType,
		DisplayName: pluginType,
		Enabled:     true,
		Config:      rawConfig,
	}
	for _, opt := range opts {
		opt(&desc)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Replace semantics: the old object must be fully shut down before
	// the new one connects, otherwise two live platform connections end
	// up behind one logical id and messages are delivered twice.
	if old, exists := r.entries[id]; exists {
		r.teardownLocked(ctx, old)
		delete(r.entries, id)
	}

	e, err := r.buildLocked(ctx, factory, desc)
	if err != nil {
		return Instance{}, err
	}
	r.entries[id] = e

	r.logger.Info("Instance added", "id", id, "type", pluginType, "capabilities", e.desc.Capabilities, "enabled", desc.Enabled)
	return e.desc, nil
}

// Reconfigure shuts down the current object for id, constructs a
// replacement with the same id and type from the new configuration,
// re-wires channel consumption and re-connects. Returns ErrNotFound
// when the id is absent.
func (r *Registry) Reconfigure(ctx context.Context, id string, rawConfig jsoniter.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("instance %q: %w", id, api.ErrNotFound)
	}

	factory, ok := GetFactory(old.desc.Type)
	if !ok {
		return fmt.Errorf("plugin type %q: %w", old.desc.Type, api.ErrNotFound)
	}

	r.teardownLocked(ctx, old)
	delete(r.entries, id)

	desc := old.desc
	desc.Config = rawConfig

	e, err := r.buildLocked(ctx, factory, desc)
	if err != nil {
		return err
	}
	r.entries[id] = e

	r.logger.Info("Instance reconfigured", "id", id, "type", desc.Type)
	return nil
}

// RemoveInstance disconnects (if connected), shuts down and evicts the
// instance. Removing an absent id is an idempotent no-op.
func (r *Registry) RemoveInstance(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	r.teardownLocked(ctx, e)
	delete(r.entries, id)

	r.logger.Info("Instance removed", "id", id, "type", e.desc.Type)
	return nil
}

// ToggleEnabled flips the enabled flag without touching the underlying
// object and returns the new state. Disabled instances are refused by
// every typed accessor, so no dispatch path reaches them.
func (r *Registry) ToggleEnabled(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false, fmt.Errorf("instance %q: %w", id, api.ErrNotFound)
	}
	e.desc.Enabled = !e.desc.Enabled

	r.logger.Info("Instance toggled", "id", id, "enabled", e.desc.Enabled)
	return e.desc.Enabled, nil
}

// ListInstances returns a point-in-time snapshot of all descriptors,
// safe to iterate while the registry mutates concurrently.
func (r *Registry) ListInstances() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instance, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	return out
}

// Get returns the descriptor for id, if present.
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Instance{}, false
	}
	return e.desc, true
}

// Channel returns the Channel capability view of a live, enabled instance.
func (r *Registry) Channel(id string) (api.Channel, error) {
	e, err := r.enabledEntry(id)
	if err != nil {
		return nil, err
	}
	if e.channel == nil {
		return nil, fmt.Errorf("instance %q has no channel capability: %w", id, api.ErrNotFound)
	}
	return e.channel, nil
}

// Model returns the Model capability view of a live, enabled instance.
func (r *Registry) Model(id string) (api.Model, error) {
	e, err := r.enabledEntry(id)
	if err != nil {
		return nil, err
	}
	if e.model == nil {
		return nil, fmt.Errorf("instance %q has no model capability: %w", id, api.ErrNotFound)
	}
	return e.model, nil
}

// Tooling returns the Tooling capability view of a live, enabled instance.
func (r *Registry) Tooling(id string) (api.Tooling, error) {
	e, err := r.enabledEntry(id)
	if err != nil {
		return nil, err
	}
	if e.tooling == nil {
		return nil, fmt.Errorf("instance %q has no tooling capability: %w", id, api.ErrNotFound)
	}
	return e.tooling, nil
}

// ApprovalGate returns the approval hook declared by the instance, or nil
// when it declares none (or is absent).
func (r *Registry) ApprovalGate(id string) api.ApprovalGate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	return e.gate
}

// Shutdown tears down every instance. Used on process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		r.teardownLocked(ctx, e)
		delete(r.entries, id)
	}
}

func (r *Registry) enabledEntry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("instance %q: %w", id, api.ErrNotFound)
	}
	if !e.desc.Enabled {
		return nil, fmt.Errorf("instance %q: %w", id, api.ErrDisabled)
	}
	return e, nil
}

// buildLocked constructs the plugin object, discovers its capabilities
// and, for channel instances, connects and attaches the event consumer.
// Caller holds the write lock.
func (r *Registry) buildLocked(ctx context.Context, factory Factory, desc Instance) (*entry, error) {
	obj, err := factory.Create(desc.Config)
	if err != nil {
		return nil, fmt.Errorf("create %q instance %q: %w", desc.Type, desc.ID, err)
	}

	e := &entry{plugin: obj}

	// Capability discovery happens exactly once, here. Dispatch paths
	// only ever go through the recorded typed views.
	desc.Capabilities = desc.Capabilities[:0]
	if ch, ok := obj.(api.Channel); ok {
		e.channel = ch
		desc.Capabilities = append(desc.Capabilities, api.CapabilityChannel)
	}
	if m, ok := obj.(api.Model); ok {
		e.model = m
		desc.Capabilities = append(desc.Capabilities, api.CapabilityModel)
	}
	if t, ok := obj.(api.Tooling); ok {
		e.tooling = t
		desc.Capabilities = append(desc.Capabilities, api.CapabilityTooling)
	}
	if g, ok := obj.(api.ApprovalGate); ok {
		e.gate = g
	}
	e.desc = desc

	if e.channel != nil && desc.Enabled {
		if err := e.channel.Connect(ctx); err != nil {
			// Connection failures are reported to the caller; the half
			// built object is shut down so nothing leaks.
			_ = e.plugin.Shutdown(ctx)
			return nil, fmt.Errorf("connect %q instance %q: %w", desc.Type, desc.ID, err)
		}
		e.connected = true
		r.startConsumerLocked(e)
	}

	return e, nil
}

// startConsumerLocked launches the per-channel consumer goroutine, bound
// by closure to the instance id. Caller holds the write lock.
func (r *Registry) startConsumerLocked(e *entry) {
	consumerCtx, cancel := context.WithCancel(context.Background())
	e.cancelConsumer = cancel

	instanceID := e.desc.ID
	events := e.channel.Events()

	go func() {
		for {
			select {
			case <-consumerCtx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				d := r.currentDispatcher()
				if d == nil {
					r.logger.Warn("Inbound message dropped, no dispatcher set", "instance", instanceID)
					continue
				}
				// Each event runs its full pipeline independently;
				// there is no cross-message ordering guarantee.
				go d.HandleInbound(consumerCtx, instanceID, msg)
			}
		}
	}()
}

func (r *Registry) currentDispatcher() Dispatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dispatcher
}

// teardownLocked cancels the consumer, disconnects the channel if
// connected and shuts the plugin down. Caller holds the write lock.
func (r *Registry) teardownLocked(ctx context.Context, e *entry) {
	if e.cancelConsumer != nil {
		e.cancelConsumer()
		e.cancelConsumer = nil
	}
	if e.channel != nil && e.connected {
		if err := e.channel.Disconnect(ctx); err != nil {
			r.logger.Warn("Channel disconnect failed", "id", e.desc.ID, "error", err)
		}
		e.connected = false
	}
	if err := e.plugin.Shutdown(ctx); err != nil {
		r.logger.Warn("Plugin shutdown failed", "id", e.desc.ID, "error", err)
	}
}
