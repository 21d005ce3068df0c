package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// adminHeader carries the admin token on every request.
const adminHeader = "X-Admin-Token"

// StatusError is a non-2xx reply from the relay.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.Code, e.Message)
}

// HTTPClient talks to the relay's HTTP API with the admin token.
type HTTPClient struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

func NewHTTPClient(baseURL, adminToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		http:       &http.Client{Timeout: 5 * time.Minute}, // sends wait for typing
	}
}

func (c *HTTPClient) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error) {
	var tenant Tenant
	if err := c.do(ctx, http.MethodPost, "/api/tenants", req, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (c *HTTPClient) DeleteTenant(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tenants/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ListTenants(ctx context.Context) ([]Tenant, error) {
	var tenants []Tenant
	if err := c.do(ctx, http.MethodGet, "/api/tenants", nil, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

func (c *HTTPClient) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var tenant Tenant
	if err := c.do(ctx, http.MethodGet, "/api/tenants/"+url.PathEscape(id), nil, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (c *HTTPClient) UpdateTenant(ctx context.Context, id string, req *UpdateTenantRequest) (*Tenant, error) {
	var tenant Tenant
	if err := c.do(ctx, http.MethodPut, "/api/tenants/"+url.PathEscape(id), req, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (c *HTTPClient) SetPassword(ctx context.Context, id, password string) error {
	body := map[string]string{"password": password}
	return c.do(ctx, http.MethodPut, "/api/tenants/"+url.PathEscape(id)+"/password", body, nil)
}

func (c *HTTPClient) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboard-data", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) StartSession(ctx context.Context, tenantID string) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"tenant_id": tenantID}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *HTTPClient) SessionStatus(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) TerminateSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) Send(ctx context.Context, sessionID string, req *SendRequest) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/send", req, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(adminHeader, c.adminToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
