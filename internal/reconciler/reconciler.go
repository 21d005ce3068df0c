package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shawn/chat-relay/internal/lifecycle"
	"github.com/shawn/chat-relay/internal/registry"
	"github.com/shawn/chat-relay/internal/store"
)

// Starter is the part of lifecycle.Manager the reconciler drives.
type Starter interface {
	StartSession(ctx context.Context, sessionID, tenantID string, restoring bool) error
}

// Reconciler brings live sessions in line with storage. At boot it removes
// sessions that cannot be resumed and restores the ones that were
// connected; afterwards it periodically marks sessions that are CONNECTED in
// storage but have no live handle as DISCONNECTED.
type Reconciler struct {
	store    store.Store
	reg      *registry.Registry
	starter  Starter
	interval time.Duration
}

// New creates a new Reconciler.
func New(st store.Store, reg *registry.Registry, starter Starter, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reconciler{store: st, reg: reg, starter: starter, interval: interval}
}

// CleanUpStale deletes sessions left INITIALIZING or PENDING_SCAN by a
// previous process.
func (r *Reconciler) CleanUpStale(ctx context.Context) error {
	n, err := r.store.CleanUpStaleSessions(ctx)
	if err != nil {
		return err
	}
	slog.Info("reconciler: stale sessions cleaned up", "count", n)
	return nil
}

// Restore restarts every session persisted as CONNECTED. Tenants are
// restored concurrently; a tenant's own sessions are restored one after the
// other because only one start per tenant may be in flight.
func (r *Reconciler) Restore(ctx context.Context) error {
	sessions, err := r.store.ListSessionsByStatus(ctx, store.StatusConnected)
	if err != nil {
		return err
	}
	slog.Info("reconciler: restoring sessions", "count", len(sessions))
	if len(sessions) == 0 {
		return nil
	}

	byTenant := make(map[string][]string)
	for _, s := range sessions {
		byTenant[s.TenantID] = append(byTenant[s.TenantID], s.SessionID)
	}

	var g errgroup.Group
	for tenantID, ids := range byTenant {
		g.Go(func() error {
			for _, id := range ids {
				if ctx.Err() != nil {
					return nil
				}
				err := r.starter.StartSession(ctx, id, tenantID, true)
				if errors.Is(err, lifecycle.ErrTenantBusy) {
					slog.Warn("reconciler: tenant busy, skipping restore", "session", id, "tenant", tenantID)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Serve waits delay, restores sessions and then runs the drift loop until
// ctx is cancelled.
func (r *Reconciler) Serve(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	if err := r.Restore(ctx); err != nil {
		slog.Error("reconciler: restore sweep failed", "err", err)
	}
	r.Run(ctx)
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("reconciler: starting", "interval", r.interval)

	// Run immediately on startup, then on ticker
	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler: shutting down")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile(ctx context.Context) {
	sessions, err := r.store.ListSessionsByStatus(ctx, store.StatusConnected)
	if err != nil {
		slog.Error("reconciler: failed to list connected sessions", "err", err)
		return
	}

	if len(sessions) == 0 {
		return
	}

	slog.Debug("reconciler: checking connected sessions", "count", len(sessions))

	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		if r.reg.Lookup(s.SessionID) != nil {
			continue
		}
		busy, err := r.reg.IsInitializing(ctx, s.TenantID)
		if err != nil {
			slog.Error("reconciler: failed to check tenant", "tenant", s.TenantID, "err", err)
			continue
		}
		if busy {
			continue
		}

		slog.Warn("reconciler: no live handle, marking disconnected",
			"session", s.SessionID,
			"tenant", s.TenantID,
		)
		status := store.StatusDisconnected
		if err := r.store.UpdateSession(ctx, s.SessionID, store.SessionUpdate{Status: &status}); err != nil {
			slog.Error("reconciler: failed to reset session state",
				"session", s.SessionID,
				"err", err,
			)
		}
	}
}
