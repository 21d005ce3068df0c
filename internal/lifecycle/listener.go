package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shawn/chat-relay/internal/protocol"
	"github.com/shawn/chat-relay/internal/session"
	"github.com/shawn/chat-relay/internal/store"
	"github.com/shawn/chat-relay/internal/webhook"
)

// listener persists the events of one handle. Methods run on the handle's
// pump goroutine, so store writes happen in event order.
type listener struct {
	m *Manager
}

func (l *listener) update(h *session.Handle, u store.SessionUpdate) error {
	err := l.m.store.UpdateSession(context.Background(), h.ID(), u)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("lifecycle: event for deleted session ignored", "session", h.ID())
		return nil
	}
	return err
}

func (l *listener) OnScanCode(h *session.Handle, code string) {
	slog.Info("lifecycle: scan code issued", "session", h.ID())
	err := l.update(h, store.SessionUpdate{
		Status:   store.Ptr(store.StatusPendingScan),
		ScanCode: &code,
	})
	if err != nil {
		slog.Error("lifecycle: failed to persist scan code", "session", h.ID(), "err", err)
	}
}

func (l *listener) OnAuthenticated(h *session.Handle) {
	slog.Info("lifecycle: client authenticated", "session", h.ID())
}

// OnReady marks the session connected. A session without a name takes the
// account's push name; a name already used by a sibling session is skipped.
func (l *listener) OnReady(h *session.Handle, id *protocol.Identity) {
	u := store.SessionUpdate{
		Status:   store.Ptr(store.StatusConnected),
		ScanCode: store.Ptr(""),
	}
	rec, err := l.m.store.GetSession(context.Background(), h.ID())
	if err != nil {
		slog.Warn("lifecycle: failed to load session on ready", "session", h.ID(), "err", err)
	}
	if rec != nil && rec.Name == "" {
		name := DefaultSessionName
		if id != nil && id.PushName != "" {
			name = id.PushName
		}
		u.Name = &name
	}

	err = l.update(h, u)
	if errors.Is(err, store.ErrConflict) {
		slog.Warn("lifecycle: session name taken, keeping it unnamed", "session", h.ID(), "name", *u.Name)
		u.Name = nil
		err = l.update(h, u)
	}
	if err != nil {
		slog.Error("lifecycle: failed to persist ready", "session", h.ID(), "err", err)
		return
	}
	slog.Info("lifecycle: session ready", "session", h.ID(), "tenant", h.TenantID())
}

func (l *listener) OnDisconnected(h *session.Handle, reason string) {
	slog.Warn("lifecycle: client disconnected", "session", h.ID(), "reason", reason)
	l.m.reg.UnregisterHandle(h)
	if err := l.update(h, store.SessionUpdate{Status: store.Ptr(store.StatusDisconnected)}); err != nil {
		slog.Error("lifecycle: failed to persist disconnect", "session", h.ID(), "err", err)
	}
	h.Close()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
		defer cancel()
		if err := h.Destroy(ctx); err != nil {
			slog.Debug("lifecycle: destroy after disconnect", "session", h.ID(), "err", err)
		}
	}()
}

// OnMessage relays inbound messages to the tenant webhook in the background
// so a slow endpoint never delays the session's later events.
func (l *listener) OnMessage(h *session.Handle, msg *protocol.Message) {
	if msg.FromMe || msg.IsStatus {
		return
	}
	l.m.relays.add()
	go func() {
		defer l.m.relays.done()
		l.m.relay(context.Background(), h, msg)
	}()
}

func (m *Manager) relay(ctx context.Context, h *session.Handle, msg *protocol.Message) {
	if m.hooks == nil {
		return
	}
	tenant, err := m.store.GetTenant(ctx, h.TenantID())
	if err != nil {
		slog.Error("lifecycle: failed to load tenant for webhook", "session", h.ID(), "tenant", h.TenantID(), "err", err)
		return
	}
	if tenant == nil || tenant.WebhookURL == "" {
		return
	}
	env, err := webhook.BuildEnvelope(ctx, h.ID(), h.Client(), msg)
	if err != nil {
		slog.Error("lifecycle: failed to build webhook envelope", "session", h.ID(), "err", err)
		return
	}
	if err := m.hooks.Deliver(ctx, tenant.WebhookURL, env); err != nil {
		slog.Error("lifecycle: failed to trigger webhook", "session", h.ID(), "tenant", tenant.TenantID, "err", err)
		return
	}
	slog.Debug("lifecycle: webhook delivered", "session", h.ID(), "message", msg.ID)
}
