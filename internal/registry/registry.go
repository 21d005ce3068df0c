// Package registry tracks the live session handles of this process and which
// tenants have a session start in flight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shawn/chat-relay/internal/lock"
	"github.com/shawn/chat-relay/internal/session"
)

// ErrAlreadyActive is returned by Register when the session id is taken.
var ErrAlreadyActive = errors.New("session already active")

// DefaultInitTTL bounds how long a tenant may stay marked initializing if
// the process dies before clearing the flag. Starts are cut off at the same
// bound, so a live start never outlasts its flag.
const DefaultInitTTL = 10 * time.Minute

// Option configures a Registry.
type Option func(*Registry)

// WithInitTTL sets how long the initializing flag lives. Non-positive values
// keep the default.
func WithInitTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.initTTL = d
		}
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*session.Handle

	locker  lock.Locker
	initTTL time.Duration
}

// New creates a registry. The initializing set lives in locker, so replicas
// sharing a Redis locker also share it.
func New(locker lock.Locker, opts ...Option) *Registry {
	r := &Registry{
		handles: make(map[string]*session.Handle),
		locker:  locker,
		initTTL: DefaultInitTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitTTL is the lifetime of the initializing flag and the longest a start
// may run.
func (r *Registry) InitTTL() time.Duration { return r.initTTL }

// Register inserts h under its session id.
func (r *Registry) Register(h *session.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.ID()]; ok {
		return fmt.Errorf("%s: %w", h.ID(), ErrAlreadyActive)
	}
	r.handles[h.ID()] = h
	return nil
}

// Lookup returns the handle for sessionID, or nil.
func (r *Registry) Lookup(sessionID string) *session.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[sessionID]
}

// Unregister removes sessionID and returns the handle that was registered,
// if any.
func (r *Registry) Unregister(sessionID string) *session.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[sessionID]
	delete(r.handles, sessionID)
	return h
}

// UnregisterHandle removes h only if it is still the registered handle for
// its id. Reports whether it was removed.
func (r *Registry) UnregisterHandle(h *session.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.ID()]; ok && cur == h {
		delete(r.handles, h.ID())
		return true
	}
	return false
}

// Handles returns a snapshot of all registered handles.
func (r *Registry) Handles() []*session.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Clear drops every handle without touching them.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.handles)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// MarkInitializing flags tenantID as having a start in flight. It returns
// false if the tenant was already flagged.
func (r *Registry) MarkInitializing(ctx context.Context, tenantID string) (bool, error) {
	ok, err := r.locker.Acquire(ctx, tenantID, r.initTTL)
	if err != nil {
		return false, fmt.Errorf("mark initializing %s: %w", tenantID, err)
	}
	return ok, nil
}

func (r *Registry) ClearInitializing(ctx context.Context, tenantID string) error {
	if err := r.locker.Release(ctx, tenantID); err != nil {
		return fmt.Errorf("clear initializing %s: %w", tenantID, err)
	}
	return nil
}

func (r *Registry) IsInitializing(ctx context.Context, tenantID string) (bool, error) {
	held, err := r.locker.Held(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("check initializing %s: %w", tenantID, err)
	}
	return held, nil
}
