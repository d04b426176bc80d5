// Package session owns per-conversation generation state: the transient
// runtime registry and the manager that orchestrates sending, streaming,
// cancelling, editing, and regenerating turns.
package session

import (
	"context"
	"sync"
)

// State is the transient runtime view of one conversation's session. It is
// never persisted; after a restart every conversation is idle.
type State struct {
	Loading       bool   `json:"loading"`
	StreamingText string `json:"streaming_text"`
}

type registryEntry struct {
	state  State
	cancel context.CancelFunc
}

// Registry maps conversation identifiers to their runtime state. It owns at
// most one active cancellation handle per conversation: acquiring a new one
// for an identifier cancels and replaces any prior handle. Entries for
// distinct conversations never interfere.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Get returns the runtime state for a conversation, or the idle default when
// no entry exists.
func (r *Registry) Get(conversationID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[conversationID]; ok {
		return e.state
	}
	return State{}
}

// Loading reports whether a generation is in flight for the conversation.
func (r *Registry) Loading(conversationID string) bool {
	return r.Get(conversationID).Loading
}

// Handle is one generation's grip on its registry entry. Mutations through a
// handle whose entry has been replaced (by a newer Acquire for the same
// conversation) are no-ops, so a superseded generation can never clobber its
// successor's state.
type Handle struct {
	registry       *Registry
	conversationID string
	entry          *registryEntry
}

// Acquire marks the conversation loading and installs a fresh cancellation
// handle derived from parent, cancelling any prior handle for the same
// identifier first. The returned context governs the generation.
func (r *Registry) Acquire(parent context.Context, conversationID string) (context.Context, *Handle) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[conversationID]; ok && prev.cancel != nil {
		prev.cancel()
	}
	e := &registryEntry{
		state:  State{Loading: true},
		cancel: cancel,
	}
	r.entries[conversationID] = e
	return ctx, &Handle{registry: r, conversationID: conversationID, entry: e}
}

// SetStreamingText records the accumulated streaming output for the
// generation this handle belongs to.
func (h *Handle) SetStreamingText(text string) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	if h.registry.entries[h.conversationID] == h.entry {
		h.entry.state.StreamingText = text
	}
}

// Release resets the conversation to idle if this generation still owns the
// entry, and frees the derived context.
func (h *Handle) Release() {
	h.registry.mu.Lock()
	if h.registry.entries[h.conversationID] == h.entry {
		delete(h.registry.entries, h.conversationID)
	}
	h.registry.mu.Unlock()

	if h.entry.cancel != nil {
		h.entry.cancel()
	}
}

// Cancel triggers the conversation's cancellation handle, if any. Idempotent:
// cancelling an idle conversation is a no-op. Reports whether a handle was
// triggered.
func (r *Registry) Cancel(conversationID string) bool {
	r.mu.RLock()
	e, ok := r.entries[conversationID]
	r.mu.RUnlock()

	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Clear unconditionally resets the conversation to idle, cancelling any
// in-flight generation. Used when the conversation itself is deleted.
func (r *Registry) Clear(conversationID string) {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if ok {
		delete(r.entries, conversationID)
	}
	r.mu.Unlock()

	if ok && e.cancel != nil {
		e.cancel()
	}
}
