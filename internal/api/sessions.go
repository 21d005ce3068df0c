package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shawn/chat-relay/internal/auth"
	"github.com/shawn/chat-relay/internal/delivery"
	"github.com/shawn/chat-relay/internal/protocol"
	"github.com/shawn/chat-relay/internal/session"
	"github.com/shawn/chat-relay/internal/store"
)

// StartSession creates a session record and starts it in the background.
// Admins name the tenant in the body and are not held to the tenant's
// session limit.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.identify(w, r)
	if !ok {
		return
	}
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	tenantID := p.TenantID
	if p.Admin {
		tenantID = req.TenantID
	}
	if tenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	tenant, ok := h.loadTenant(w, r, tenantID)
	if !ok {
		return
	}
	ctx := r.Context()

	if !p.Admin {
		sessions, err := h.store.ListSessionsByTenant(ctx, tenantID)
		if err != nil {
			slog.Error("start session: list sessions failed", "tenant", tenantID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		connected := 0
		for _, s := range sessions {
			if s.Status == store.StatusConnected {
				connected++
			}
		}
		if connected >= tenant.MaxSessions {
			http.Error(w, "active session limit reached", http.StatusForbidden)
			return
		}
	}

	busy, err := h.mgr.Registry().IsInitializing(ctx, tenantID)
	if err != nil {
		slog.Error("start session: initializing check failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if busy {
		http.Error(w, "a session for this tenant is already initializing", http.StatusConflict)
		return
	}

	sessionID := uuid.NewString()
	if err := h.store.CreateSession(ctx, sessionID, tenantID, store.StatusInitializing); err != nil {
		slog.Error("start session: create record failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	go h.start(context.WithoutCancel(ctx), sessionID, tenantID)

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (h *Handler) start(ctx context.Context, sessionID, tenantID string) {
	if err := h.mgr.StartSession(ctx, sessionID, tenantID, false); err != nil {
		// lost the race for the tenant's initializing slot
		slog.Warn("start session rejected", "session", sessionID, "tenant", tenantID, "err", err)
		st := store.StatusError
		if err := h.store.UpdateSession(ctx, sessionID, store.SessionUpdate{Status: &st}); err != nil {
			slog.Error("start session: record error status failed", "session", sessionID, "err", err)
		}
	}
}

// SessionStatus returns the persisted session record, including any
// pending scan code
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Send types and sends a text message. The request blocks until the
// message is sent.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}
	var req struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.Text == "" {
		http.Error(w, "chat_id and text are required", http.StatusBadRequest)
		return
	}
	// a client hanging up does not abort a half-typed message
	err := h.delivery.SendMessage(context.WithoutCancel(r.Context()), rec.SessionID, req.ChatID, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "message sent"})
	case errors.Is(err, session.ErrNotReady):
		http.Error(w, "session is not connected", http.StatusServiceUnavailable)
	case errors.Is(err, delivery.ErrSendFailed):
		http.Error(w, "failed to send message", http.StatusInternalServerError)
	default:
		slog.Error("send failed", "session", rec.SessionID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// SendMedia fetches a URL and sends it as a media message
func (h *Handler) SendMedia(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}
	var req struct {
		ChatID   string `json:"chat_id"`
		MediaURL string `json:"media_url"`
		Caption  string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.MediaURL == "" {
		http.Error(w, "chat_id and media_url are required", http.StatusBadRequest)
		return
	}
	err := h.delivery.SendMedia(context.WithoutCancel(r.Context()), rec.SessionID, req.ChatID, req.MediaURL, req.Caption)
	var fetchErr *protocol.MediaFetchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "media sent"})
	case errors.Is(err, session.ErrNotReady):
		http.Error(w, "session is not connected", http.StatusServiceUnavailable)
	case errors.Is(err, protocol.ErrUnknownMIME):
		http.Error(w, "could not determine file type from URL, use a direct link to a media file", http.StatusUnprocessableEntity)
	case errors.As(err, &fetchErr):
		http.Error(w, "could not fetch media from URL", http.StatusBadGateway)
	default:
		http.Error(w, "failed to send media", http.StatusInternalServerError)
	}
}

// TerminateSession stops and deletes any session
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	h.mgr.TerminateSession(context.WithoutCancel(r.Context()), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// TerminateOwnSession stops and deletes one of the caller's sessions
func (h *Handler) TerminateOwnSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}
	h.mgr.TerminateSession(context.WithoutCancel(r.Context()), rec.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// RenameSession sets the display name of one of the caller's sessions
func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "session name cannot be empty", http.StatusBadRequest)
		return
	}
	err := h.store.UpdateSession(r.Context(), rec.SessionID, store.SessionUpdate{Name: &name})
	switch {
	case err == nil:
		rec.Name = name
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "you already have a session with that name", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	default:
		slog.Error("rename session failed", "session", rec.SessionID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// identify returns the caller, preferring a principal already placed in the
// context by middleware.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p, true
	}
	p, err := h.auth.Identify(r)
	switch {
	case err == nil:
		return p, true
	case errors.Is(err, auth.ErrNoCredentials):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}
	return auth.Principal{}, false
}

// authorizeSession loads the {sessionID} session and checks the caller is
// an admin or the owning tenant.
func (h *Handler) authorizeSession(w http.ResponseWriter, r *http.Request) (*store.SessionRecord, bool) {
	p, ok := h.identify(w, r)
	if !ok {
		return nil, false
	}
	sessionID := chi.URLParam(r, "sessionID")
	rec, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("get session failed", "session", sessionID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if rec == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	if !p.Admin && rec.TenantID != p.TenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	return rec, true
}
