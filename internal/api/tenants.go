package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shawn/chat-relay/internal/auth"
	"github.com/shawn/chat-relay/internal/humanize"
	"github.com/shawn/chat-relay/internal/store"
)

const minPasswordLen = 6

// AdminDashboard returns every tenant and session
func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		slog.Error("list tenants failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants":  nonNil(tenants),
		"sessions": nonNil(sessions),
	})
}

// CreateTenant creates a tenant with a login
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID    string `json:"tenant_id"`
		Name        string `json:"name"`
		Username    string `json:"username"`
		Password    string `json:"password"`
		WebhookURL  string `json:"webhook_url"`
		MaxSessions int    `json:"max_sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Name == "" || req.Username == "" || req.Password == "" {
		http.Error(w, "tenant_id, name, username and password are required", http.StatusBadRequest)
		return
	}
	if req.MaxSessions < 0 {
		http.Error(w, "max_sessions must be at least 1", http.StatusBadRequest)
		return
	}
	if req.MaxSessions == 0 {
		req.MaxSessions = store.DefaultMaxSessions
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("create tenant: hash failed", "tenant", req.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rec := &store.TenantRecord{
		TenantID:     req.TenantID,
		Name:         req.Name,
		Username:     req.Username,
		PasswordHash: hash,
		WebhookURL:   req.WebhookURL,
		MaxSessions:  req.MaxSessions,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateTenant(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "tenant id or username already exists", http.StatusConflict)
			return
		}
		slog.Error("create tenant failed", "tenant", req.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("tenant created", "tenant", rec.TenantID)
	writeJSON(w, http.StatusCreated, rec)
}

// ListTenants returns all tenant records
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListTenants(r.Context())
	if err != nil {
		slog.Error("list tenants failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

// GetTenant returns a tenant record
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadTenant(w, r, chi.URLParam(r, "tenantID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateTenant updates a tenant's name, webhook and session limit
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		WebhookURL  *string `json:"webhook_url"`
		MaxSessions *int    `json:"max_sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if req.MaxSessions != nil && *req.MaxSessions < 1 {
		http.Error(w, "max_sessions must be at least 1", http.StatusBadRequest)
		return
	}
	rec, ok := h.loadTenant(w, r, chi.URLParam(r, "tenantID"))
	if !ok {
		return
	}
	rec.Name = req.Name
	if req.WebhookURL != nil {
		rec.WebhookURL = *req.WebhookURL
	}
	if req.MaxSessions != nil {
		rec.MaxSessions = *req.MaxSessions
	}
	if !h.saveTenant(w, r, rec) {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteTenant stops every session of a tenant and removes it
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := h.mgr.TerminateTenantSessions(r.Context(), tenantID); err != nil {
		slog.Error("delete tenant: terminate sessions failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.store.DeleteTenant(r.Context(), tenantID); err != nil {
		slog.Error("delete tenant failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("tenant deleted", "tenant", tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// SetTenantPassword replaces a tenant's login password
func (h *Handler) SetTenantPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLen {
		http.Error(w, "password must be at least 6 characters long", http.StatusBadRequest)
		return
	}
	rec, ok := h.loadTenant(w, r, chi.URLParam(r, "tenantID"))
	if !ok {
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("set password: hash failed", "tenant", rec.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rec.PasswordHash = hash
	if !h.saveTenant(w, r, rec) {
		return
	}
	slog.Info("tenant password reset", "tenant", rec.TenantID)
	w.WriteHeader(http.StatusNoContent)
}

// UserDashboard returns the caller's tenant and sessions
func (h *Handler) UserDashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	tenant, ok := h.loadTenant(w, r, p.TenantID)
	if !ok {
		return
	}
	sessions, err := h.store.ListSessionsByTenant(r.Context(), p.TenantID)
	if err != nil {
		slog.Error("list sessions failed", "tenant", p.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":   tenant,
		"sessions": nonNil(sessions),
		"humanize": humanize.Resolve(tenant.Humanize, h.delivery.Defaults()),
	})
}

// TenantStatus returns the caller's sessions
func (h *Handler) TenantStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	sessions, err := h.store.ListSessionsByTenant(r.Context(), p.TenantID)
	if err != nil {
		slog.Error("list sessions failed", "tenant", p.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": nonNil(sessions)})
}

// UpdateHumanization merges the given settings over the caller's override.
// The result, resolved over the system defaults, must be a valid policy.
func (h *Handler) UpdateHumanization(w http.ResponseWriter, r *http.Request) {
	var patch humanize.Override
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	p, _ := auth.FromContext(r.Context())
	rec, ok := h.loadTenant(w, r, p.TenantID)
	if !ok {
		return
	}
	merged := rec.Humanize.Merge(patch)
	resolved := humanize.Resolve(merged, h.delivery.Defaults())
	if err := resolved.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.Humanize = merged
	if !h.saveTenant(w, r, rec) {
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// UpdateAISettings stores the caller's AI system prompt
func (h *Handler) UpdateAISettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AISystemPrompt string `json:"ai_system_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	p, _ := auth.FromContext(r.Context())
	rec, ok := h.loadTenant(w, r, p.TenantID)
	if !ok {
		return
	}
	rec.AISystemPrompt = strings.TrimSpace(req.AISystemPrompt)
	if !h.saveTenant(w, r, rec) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadTenant writes 404 or 500 and returns false when the tenant cannot be
// loaded.
func (h *Handler) loadTenant(w http.ResponseWriter, r *http.Request, tenantID string) (*store.TenantRecord, bool) {
	rec, err := h.store.GetTenant(r.Context(), tenantID)
	if err != nil {
		slog.Error("get tenant failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if rec == nil {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}

func (h *Handler) saveTenant(w http.ResponseWriter, r *http.Request, rec *store.TenantRecord) bool {
	err := h.store.UpdateTenant(r.Context(), rec)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "tenant not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "username already exists", http.StatusConflict)
	default:
		slog.Error("update tenant failed", "tenant", rec.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
