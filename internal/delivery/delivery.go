// Package delivery routes outbound sends to live sessions.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shawn/chat-relay/internal/humanize"
	"github.com/shawn/chat-relay/internal/registry"
	"github.com/shawn/chat-relay/internal/session"
	"github.com/shawn/chat-relay/internal/store"
)

// ErrSendFailed is returned when the client did not accept a message.
var ErrSendFailed = errors.New("send failed")

// Service sends messages through the registry's live handles, applying
// each tenant's humanization settings over the system defaults.
type Service struct {
	reg      *registry.Registry
	store    store.Store
	defaults humanize.Policy
}

func New(reg *registry.Registry, st store.Store, defaults humanize.Policy) *Service {
	return &Service{reg: reg, store: st, defaults: defaults}
}

// Defaults returns the system policy tenant overrides are merged over.
func (s *Service) Defaults() humanize.Policy { return s.defaults }

func (s *Service) readyHandle(sessionID string) (*session.Handle, error) {
	h := s.reg.Lookup(sessionID)
	if h == nil || !h.IsReady() {
		return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrNotReady)
	}
	return h, nil
}

// Policy resolves the effective humanization policy for tenantID.
func (s *Service) Policy(ctx context.Context, tenantID string) (humanize.Policy, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return humanize.Policy{}, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if tenant == nil {
		return s.defaults, nil
	}
	return humanize.Resolve(tenant.Humanize, s.defaults), nil
}

// SendMessage types and sends text on sessionID. It blocks for the whole
// simulated typing time.
func (s *Service) SendMessage(ctx context.Context, sessionID, chatID, text string) error {
	h, err := s.readyHandle(sessionID)
	if err != nil {
		slog.Error("delivery: session not ready or not found", "session", sessionID)
		return err
	}
	p, err := s.Policy(ctx, h.TenantID())
	if err != nil {
		return err
	}

	var ok bool
	if p.Enabled {
		ok = h.SendHumanized(ctx, chatID, text, p)
	} else {
		ok = h.SendPlain(ctx, chatID, text)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrSendFailed)
	}
	return nil
}

// SendMedia fetches mediaURL and sends it immediately. Fetch failures are
// returned as *protocol.MediaFetchError.
func (s *Service) SendMedia(ctx context.Context, sessionID, chatID, mediaURL, caption string) error {
	h, err := s.readyHandle(sessionID)
	if err != nil {
		slog.Error("delivery: session not ready or not found", "session", sessionID)
		return err
	}
	if err := h.SendMedia(ctx, chatID, mediaURL, caption); err != nil {
		slog.Error("delivery: send media failed", "session", sessionID, "chat", chatID, "err", err)
		return err
	}
	return nil
}
