package api

import (
	"context"
)

// Client is the interface for the relay control plane
type Client interface {
	// Tenants
	CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	UpdateTenant(ctx context.Context, id string, req *UpdateTenantRequest) (*Tenant, error)
	SetPassword(ctx context.Context, id, password string) error

	// Sessions
	Dashboard(ctx context.Context) (*Dashboard, error)
	StartSession(ctx context.Context, tenantID string) (string, error)
	SessionStatus(ctx context.Context, id string) (*Session, error)
	TerminateSession(ctx context.Context, id string) error
	Send(ctx context.Context, sessionID string, req *SendRequest) error
}
