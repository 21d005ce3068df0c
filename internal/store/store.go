// Package store persists tenants and sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shawn/chat-relay/internal/humanize"
)

var (
	// ErrNotFound is returned by updates that target a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("record conflicts with an existing record")
)

// SessionStatus is the persisted lifecycle state of a session
type SessionStatus string

const (
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusPendingScan  SessionStatus = "PENDING_SCAN"
	StatusConnected    SessionStatus = "CONNECTED"
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusError        SessionStatus = "ERROR"
)

// DefaultMaxSessions is applied to tenants created without an explicit limit.
const DefaultMaxSessions = 1

// TenantRecord is the persisted schema for a tenant
type TenantRecord struct {
	TenantID       string            `dynamodbav:"tenant_id" json:"id"`
	Name           string            `dynamodbav:"name" json:"name"`
	Username       string            `dynamodbav:"username,omitempty" json:"username,omitempty"`
	PasswordHash   string            `dynamodbav:"password_hash,omitempty" json:"-"`
	WebhookURL     string            `dynamodbav:"webhook_url,omitempty" json:"webhook_url,omitempty"`
	AISystemPrompt string            `dynamodbav:"ai_system_prompt,omitempty" json:"ai_system_prompt,omitempty"`
	MaxSessions    int               `dynamodbav:"max_sessions" json:"max_sessions"`
	Humanize       humanize.Override `dynamodbav:"humanize" json:"humanize"`
	CreatedAt      time.Time         `dynamodbav:"created_at" json:"created_at"`
}

// SessionRecord is the persisted schema for a session
type SessionRecord struct {
	SessionID    string        `dynamodbav:"session_id" json:"id"`
	TenantID     string        `dynamodbav:"tenant_id" json:"tenant_id"`
	Status       SessionStatus `dynamodbav:"status" json:"status"`
	Name         string        `dynamodbav:"name,omitempty" json:"name,omitempty"`
	ScanCode     string        `dynamodbav:"scan_code,omitempty" json:"scan_code,omitempty"`
	LastActiveAt time.Time     `dynamodbav:"last_active_at" json:"last_active_at"`
}

// SessionUpdate is a partial session update. Nil fields are left unchanged;
// a non-nil empty ScanCode or Name clears the column.
type SessionUpdate struct {
	Status   *SessionStatus
	ScanCode *string
	Name     *string
}

// Store is the interface for tenant and session persistence.
//
// Getters return nil, nil when the record does not exist. Deletes are
// idempotent. Session names are unique per tenant and usernames are unique
// across tenants; violations return ErrConflict.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*TenantRecord, error)
	GetTenantByUsername(ctx context.Context, username string) (*TenantRecord, error)
	ListTenants(ctx context.Context) ([]*TenantRecord, error)
	CreateTenant(ctx context.Context, record *TenantRecord) error
	UpdateTenant(ctx context.Context, record *TenantRecord) error
	// DeleteTenant removes the tenant and all of its sessions.
	DeleteTenant(ctx context.Context, tenantID string) error

	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListSessions(ctx context.Context) ([]*SessionRecord, error)
	ListSessionsByTenant(ctx context.Context, tenantID string) ([]*SessionRecord, error)
	ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]*SessionRecord, error)
	CreateSession(ctx context.Context, sessionID, tenantID string, status SessionStatus) error
	UpdateSession(ctx context.Context, sessionID string, u SessionUpdate) error
	DeleteSession(ctx context.Context, sessionID string) error
	// CleanUpStaleSessions deletes sessions left INITIALIZING or PENDING_SCAN
	// and returns how many were removed.
	CleanUpStaleSessions(ctx context.Context) (int, error)

	Close() error
}

// IsStale reports whether a session in status s cannot survive a restart.
func IsStale(s SessionStatus) bool {
	return s == StatusInitializing || s == StatusPendingScan
}

// EnsureSeedTenant creates rec unless a tenant with the same username
// already exists.
func EnsureSeedTenant(ctx context.Context, s Store, rec *TenantRecord) (bool, error) {
	existing, err := s.GetTenantByUsername(ctx, rec.Username)
	if err != nil {
		return false, fmt.Errorf("lookup seed tenant: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	if rec.MaxSessions == 0 {
		rec.MaxSessions = DefaultMaxSessions
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.CreateTenant(ctx, rec); err != nil {
		return false, fmt.Errorf("create seed tenant: %w", err)
	}
	return true, nil
}

// Ptr returns a pointer to v, for building SessionUpdate values.
func Ptr[T any](v T) *T { return &v }
