package api

import (
	"context"
)

// MockClient for testing
type MockClient struct {
	CreateTenantFunc     func(ctx context.Context, req *CreateTenantRequest) (*Tenant, error)
	DeleteTenantFunc     func(ctx context.Context, id string) error
	ListTenantsFunc      func(ctx context.Context) ([]Tenant, error)
	GetTenantFunc        func(ctx context.Context, id string) (*Tenant, error)
	UpdateTenantFunc     func(ctx context.Context, id string, req *UpdateTenantRequest) (*Tenant, error)
	SetPasswordFunc      func(ctx context.Context, id, password string) error
	DashboardFunc        func(ctx context.Context) (*Dashboard, error)
	StartSessionFunc     func(ctx context.Context, tenantID string) (string, error)
	SessionStatusFunc    func(ctx context.Context, id string) (*Session, error)
	TerminateSessionFunc func(ctx context.Context, id string) error
	SendFunc             func(ctx context.Context, sessionID string, req *SendRequest) error
}

func (m *MockClient) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error) {
	if m.CreateTenantFunc != nil {
		return m.CreateTenantFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockClient) DeleteTenant(ctx context.Context, id string) error {
	if m.DeleteTenantFunc != nil {
		return m.DeleteTenantFunc(ctx, id)
	}
	return nil
}

func (m *MockClient) ListTenants(ctx context.Context) ([]Tenant, error) {
	if m.ListTenantsFunc != nil {
		return m.ListTenantsFunc(ctx)
	}
	return nil, nil
}

func (m *MockClient) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	if m.GetTenantFunc != nil {
		return m.GetTenantFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockClient) UpdateTenant(ctx context.Context, id string, req *UpdateTenantRequest) (*Tenant, error) {
	if m.UpdateTenantFunc != nil {
		return m.UpdateTenantFunc(ctx, id, req)
	}
	return nil, nil
}

func (m *MockClient) SetPassword(ctx context.Context, id, password string) error {
	if m.SetPasswordFunc != nil {
		return m.SetPasswordFunc(ctx, id, password)
	}
	return nil
}

func (m *MockClient) Dashboard(ctx context.Context) (*Dashboard, error) {
	if m.DashboardFunc != nil {
		return m.DashboardFunc(ctx)
	}
	return &Dashboard{}, nil
}

func (m *MockClient) StartSession(ctx context.Context, tenantID string) (string, error) {
	if m.StartSessionFunc != nil {
		return m.StartSessionFunc(ctx, tenantID)
	}
	return "", nil
}

func (m *MockClient) SessionStatus(ctx context.Context, id string) (*Session, error) {
	if m.SessionStatusFunc != nil {
		return m.SessionStatusFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockClient) TerminateSession(ctx context.Context, id string) error {
	if m.TerminateSessionFunc != nil {
		return m.TerminateSessionFunc(ctx, id)
	}
	return nil
}

func (m *MockClient) Send(ctx context.Context, sessionID string, req *SendRequest) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, sessionID, req)
	}
	return nil
}
