package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shawn/chat-relay/internal/auth"
	"github.com/shawn/chat-relay/internal/delivery"
	"github.com/shawn/chat-relay/internal/lifecycle"
	"github.com/shawn/chat-relay/internal/store"
)

// Config holds control plane configuration
type Config struct {
	// StartedAt is reported as uptime by /health.
	StartedAt time.Time
}

// Handler is the control plane HTTP handler
type Handler struct {
	store    store.Store
	mgr      *lifecycle.Manager
	delivery *delivery.Service
	auth     *auth.Authenticator
	cfg      Config
}

func New(st store.Store, mgr *lifecycle.Manager, del *delivery.Service, a *auth.Authenticator, cfg Config) *Handler {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	return &Handler{store: st, mgr: mgr, delivery: del, auth: a, cfg: cfg}
}

// Router returns the chi router with all routes registered
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.Health)
	r.Post("/api/admin/login", h.AdminLogin)
	r.Post("/api/login", h.Login)

	// Sessions accept either credential; handlers check ownership.
	r.Post("/sessions", h.StartSession)
	r.Get("/sessions/{sessionID}/status", h.SessionStatus)
	r.Post("/sessions/{sessionID}/send", h.Send)
	r.Post("/api/sessions/{sessionID}/send-media", h.SendMedia)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireAdmin)
		r.Get("/api/dashboard-data", h.AdminDashboard)
		r.Post("/api/tenants", h.CreateTenant)
		r.Get("/api/tenants", h.ListTenants)
		r.Get("/api/tenants/{tenantID}", h.GetTenant)
		r.Put("/api/tenants/{tenantID}", h.UpdateTenant)
		r.Delete("/api/tenants/{tenantID}", h.DeleteTenant)
		r.Put("/api/tenants/{tenantID}/password", h.SetTenantPassword)
		r.Delete("/api/sessions/{sessionID}", h.TerminateSession)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireTenant)
		r.Get("/api/user/dashboard-data", h.UserDashboard)
		r.Get("/api/tenant/status", h.TenantStatus)
		r.Delete("/api/user/sessions/{sessionID}", h.TerminateOwnSession)
		r.Put("/api/sessions/{sessionID}/name", h.RenameSession)
		r.Put("/user/settings/humanization", h.UpdateHumanization)
		r.Put("/user/settings/ai", h.UpdateAISettings)
	})

	return r
}

// Health reports liveness and the number of live session handles
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime":          fmt.Sprintf("%.2fs", time.Since(h.cfg.StartedAt).Seconds()),
		"active_sessions": h.mgr.Registry().Len(),
	})
}

// AdminLogin checks a password against the admin token
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !h.auth.CheckAdminToken(req.Password) {
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "login successful"})
}

// Login exchanges tenant credentials for a bearer token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	tenant, err := h.store.GetTenantByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("login: tenant lookup failed", "username", req.Username, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tenant == nil || !auth.CheckPassword(tenant.PasswordHash, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := h.auth.IssueToken(tenant.TenantID, tenant.Name)
	if err != nil {
		slog.Error("login: issue token failed", "tenant", tenant.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
