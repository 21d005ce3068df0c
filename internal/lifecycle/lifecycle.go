// Package lifecycle drives session state machines: it starts sessions,
// persists the status changes their clients report, relays inbound messages
// to webhooks and tears sessions down.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shawn/chat-relay/internal/protocol"
	"github.com/shawn/chat-relay/internal/registry"
	"github.com/shawn/chat-relay/internal/session"
	"github.com/shawn/chat-relay/internal/store"
	"github.com/shawn/chat-relay/internal/webhook"
)

var (
	// ErrInitialization wraps a failure of the client's connect call.
	ErrInitialization = errors.New("session initialization failed")
	// ErrRestore marks a restored session that did not reach CONNECTED.
	ErrRestore = errors.New("session restore failed")
	// ErrTenantBusy is returned by StartSession when another start for the
	// same tenant is still in flight.
	ErrTenantBusy = errors.New("tenant already has a session initializing")
)

// DefaultSessionName is used when the connected account has no push name.
const DefaultSessionName = "My WhatsApp"

const (
	defaultRestoreWait = 30 * time.Second
	destroyTimeout     = 10 * time.Second
)

// Config tunes the Manager.
type Config struct {
	// RestoreWait bounds how long a restored session may take to report ready
	// after Initialize returns.
	RestoreWait time.Duration
	// HandleOptions are applied to every session handle.
	HandleOptions []session.Option
}

// Manager owns the lifecycle of every session hosted by this process.
type Manager struct {
	store  store.Store
	reg    *registry.Registry
	dialer protocol.Dialer
	hooks  *webhook.Client
	cfg    Config

	relays relayGroup
}

// relayGroup counts in-flight webhook relays. Unlike a WaitGroup it may be
// waited on while relays are still being added, and reused afterwards.
type relayGroup struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (g *relayGroup) add() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n == 0 {
		g.idle = make(chan struct{})
	}
	g.n++
}

func (g *relayGroup) done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n--
	if g.n == 0 {
		close(g.idle)
	}
}

// drained is closed once no relay is in flight.
func (g *relayGroup) drained() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n == 0 {
		c := make(chan struct{})
		close(c)
		return c
	}
	return g.idle
}

func New(st store.Store, reg *registry.Registry, dialer protocol.Dialer, hooks *webhook.Client, cfg Config) *Manager {
	if cfg.RestoreWait <= 0 {
		cfg.RestoreWait = defaultRestoreWait
	}
	return &Manager{store: st, reg: reg, dialer: dialer, hooks: hooks, cfg: cfg}
}

// Registry exposes the registry the manager registers handles in.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// StartSession launches sessionID for tenantID and blocks until the client
// has initialized (and, when restoring, connected) or failed. Failures are
// recorded in the session's persisted status rather than returned; the only
// error is ErrTenantBusy, returned before anything is started.
func (m *Manager) StartSession(ctx context.Context, sessionID, tenantID string, restoring bool) error {
	if m.reg.Lookup(sessionID) != nil {
		slog.Info("lifecycle: session already running", "session", sessionID)
		return nil
	}

	ok, err := m.reg.MarkInitializing(ctx, tenantID)
	if err != nil {
		slog.Error("lifecycle: cannot mark tenant initializing", "session", sessionID, "tenant", tenantID, "err", err)
		m.setStatus(ctx, sessionID, store.StatusError)
		return nil
	}
	if !ok {
		slog.Warn("lifecycle: tenant busy, start rejected", "session", sessionID, "tenant", tenantID)
		return ErrTenantBusy
	}
	defer func() {
		if err := m.reg.ClearInitializing(context.WithoutCancel(ctx), tenantID); err != nil {
			slog.Error("lifecycle: failed to release tenant", "tenant", tenantID, "err", err)
		}
		slog.Info("lifecycle: initialization finished, tenant released", "session", sessionID, "tenant", tenantID)
	}()

	slog.Info("lifecycle: starting session", "session", sessionID, "tenant", tenantID, "restoring", restoring)

	// The tenant flag expires after InitTTL; the start must not outlive it.
	startCtx, cancel := context.WithTimeout(ctx, m.reg.InitTTL())
	defer cancel()

	h, err := session.Dial(sessionID, tenantID, m.dialer, m.cfg.HandleOptions...)
	if err != nil {
		slog.Error("lifecycle: dial failed", "session", sessionID, "err", fmt.Errorf("%w: %w", ErrInitialization, err))
		m.fail(ctx, sessionID, restoring)
		return nil
	}
	if err := m.reg.Register(h); err != nil {
		slog.Info("lifecycle: session registered concurrently", "session", sessionID, "err", err)
		h.Close()
		return nil
	}
	go h.Pump(&listener{m: m})

	if err := h.Initialize(startCtx); err != nil {
		m.discard(ctx, h)
		if ctx.Err() != nil {
			slog.Warn("lifecycle: start interrupted, status left as is", "session", sessionID, "err", err)
			return nil
		}
		slog.Error("lifecycle: critical failure during initialize", "session", sessionID,
			"err", fmt.Errorf("%w: %w", ErrInitialization, err))
		m.fail(ctx, sessionID, restoring)
		return nil
	}

	ready := true
	if restoring {
		ready = m.awaitReady(startCtx, h)
		if !ready && ctx.Err() != nil {
			slog.Warn("lifecycle: restore interrupted, record kept", "session", sessionID, "err", ctx.Err())
			m.discard(ctx, h)
			return nil
		}
	}

	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("lifecycle: failed to read back session", "session", sessionID, "err", err)
		return nil
	}
	if rec == nil {
		slog.Info("lifecycle: session terminated while starting", "session", sessionID)
		return nil
	}
	// A restored record is still CONNECTED from the previous run, so only a
	// fresh ready event counts.
	if restoring && (!ready || rec.Status != store.StatusConnected) {
		slog.Error("lifecycle: terminating session", "session", sessionID, "status", rec.Status,
			"err", fmt.Errorf("%w: final status %s", ErrRestore, rec.Status))
		m.TerminateSession(ctx, sessionID)
		return nil
	}
	slog.Info("lifecycle: session started", "session", sessionID, "status", rec.Status)
	return nil
}

// awaitReady waits until h reports ready, its pump stops, or RestoreWait
// elapses. It reports whether h became ready.
func (m *Manager) awaitReady(ctx context.Context, h *session.Handle) bool {
	timer := time.NewTimer(m.cfg.RestoreWait)
	defer timer.Stop()
	select {
	case <-h.Ready():
		return true
	case <-h.Done():
	case <-timer.C:
		slog.Warn("lifecycle: restored session not ready in time", "session", h.ID(), "wait", m.cfg.RestoreWait)
	case <-ctx.Done():
	}
	select {
	case <-h.Ready():
		return true
	default:
		return false
	}
}

// discard drops a handle that failed to start.
func (m *Manager) discard(ctx context.Context, h *session.Handle) {
	m.reg.UnregisterHandle(h)
	h.Close()
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()
	if err := h.Destroy(dctx); err != nil {
		slog.Warn("lifecycle: destroy after failed start", "session", h.ID(), "err", err)
	}
}

// fail records a start failure. A fresh session is marked ERROR; a restored
// one is terminated.
func (m *Manager) fail(ctx context.Context, sessionID string, restoring bool) {
	if restoring {
		slog.Error("lifecycle: terminating session", "session", sessionID, "err", ErrRestore)
		m.TerminateSession(context.WithoutCancel(ctx), sessionID)
		return
	}
	m.setStatus(ctx, sessionID, store.StatusError)
}

// setStatus persists status, ignoring sessions that were already deleted.
func (m *Manager) setStatus(ctx context.Context, sessionID string, status store.SessionStatus) {
	err := m.store.UpdateSession(context.WithoutCancel(ctx), sessionID, store.SessionUpdate{Status: &status})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("lifecycle: failed to persist status", "session", sessionID, "status", status, "err", err)
	}
}

// TerminateSession logs the session out, purges its local credentials and
// deletes its record. It is idempotent and never fails; problems are logged.
func (m *Manager) TerminateSession(ctx context.Context, sessionID string) {
	if h := m.reg.Lookup(sessionID); h != nil {
		if err := h.Logout(ctx); err != nil {
			slog.Warn("lifecycle: logout failed", "session", sessionID, "err", err)
		}
		h.Close()
	} else {
		slog.Info("lifecycle: session not active, purging credentials", "session", sessionID)
		if err := m.dialer.Purge(ctx, sessionID); err != nil {
			slog.Warn("lifecycle: purge failed", "session", sessionID, "err", err)
		}
	}

	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("lifecycle: failed to load session", "session", sessionID, "err", err)
	}
	if rec != nil {
		if err := m.reg.ClearInitializing(ctx, rec.TenantID); err != nil {
			slog.Warn("lifecycle: failed to release tenant", "tenant", rec.TenantID, "err", err)
		}
	}
	m.reg.Unregister(sessionID)
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		slog.Error("lifecycle: failed to delete session", "session", sessionID, "err", err)
		return
	}
	slog.Info("lifecycle: session terminated", "session", sessionID)
}

// TerminateTenantSessions terminates every session of tenantID concurrently
// and waits for all of them.
func (m *Manager) TerminateTenantSessions(ctx context.Context, tenantID string) error {
	sessions, err := m.store.ListSessionsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list sessions for %s: %w", tenantID, err)
	}
	if len(sessions) == 0 {
		return nil
	}
	slog.Info("lifecycle: terminating tenant sessions", "tenant", tenantID, "count", len(sessions))

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			m.TerminateSession(ctx, s.SessionID)
			return nil
		})
	}
	return g.Wait()
}

// Shutdown destroys every live handle concurrently, then clears the
// registry. Persisted records are kept so the sessions restore on the next
// start. In-flight webhook relays are awaited until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) {
	handles := m.reg.Handles()
	slog.Info("lifecycle: shutting down all sessions", "count", len(handles))

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			h.Close()
			if err := h.Destroy(ctx); err != nil {
				slog.Error("lifecycle: destroy failed", "session", h.ID(), "err", err)
			}
			return nil
		})
	}
	g.Wait()
	m.reg.Clear()

	select {
	case <-m.relays.drained():
	case <-ctx.Done():
		slog.Warn("lifecycle: abandoning in-flight webhook relays", "err", ctx.Err())
	}
	slog.Info("lifecycle: all sessions have been shut down")
}
