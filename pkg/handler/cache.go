package handler

import (
	"sync"
	"time"

	"axon/pkg/api"
)

// contextCache is the in-process rolling conversation window, keyed by
// (channel instance id, external channel id). It exists purely for
// conversational continuity: it is not the persisted transcript, is lost
// on restart, and near-simultaneous messages on one external channel
// race on it with last-write-wins semantics — a documented limitation.
type contextCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	limit   int
	ttl     time.Duration
}

type cacheKey struct {
	instanceID string
	externalID string
}

type cacheEntry struct {
	messages []api.Message
	touched  time.Time
}

func newContextCache(limit int, ttl time.Duration) *contextCache {
	return &contextCache{
		entries: make(map[cacheKey]*cacheEntry),
		limit:   limit,
		ttl:     ttl,
	}
}

// Snapshot returns a copy of the current window for the key, dropping
// the entry entirely if it has expired.
func (c *contextCache) Snapshot(key cacheKey) []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.ttl > 0 && time.Since(e.touched) > c.ttl {
		delete(c.entries, key)
		return nil
	}

	out := make([]api.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Append adds messages to the window, evicting the oldest beyond the cap.
func (c *contextCache) Append(key cacheKey, msgs ...api.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	e.messages = append(e.messages, msgs...)
	if c.limit > 0 && len(e.messages) > c.limit {
		e.messages = e.messages[len(e.messages)-c.limit:]
	}
	e.touched = time.Now()
}

// Clear drops the window for the key.
func (c *contextCache) Clear(key cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
