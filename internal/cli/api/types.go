package api

import (
	"time"
)

type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Username    string    `json:"username,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	MaxSessions int       `json:"max_sessions"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Session struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Status       string    `json:"status"`
	Name         string    `json:"name,omitempty"`
	ScanCode     string    `json:"scan_code,omitempty"`
	LastActiveAt time.Time `json:"last_active_at,omitempty"`
}

type CreateTenantRequest struct {
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	MaxSessions int    `json:"max_sessions,omitempty"`
}

// UpdateTenantRequest replaces the name; nil fields are left as they are.
type UpdateTenantRequest struct {
	Name        string  `json:"name"`
	WebhookURL  *string `json:"webhook_url,omitempty"`
	MaxSessions *int    `json:"max_sessions,omitempty"`
}

type SendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type Dashboard struct {
	Tenants  []Tenant  `json:"tenants"`
	Sessions []Session `json:"sessions"`
}
