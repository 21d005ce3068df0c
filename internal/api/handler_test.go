package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shawn/chat-relay/internal/api"
	"github.com/shawn/chat-relay/internal/auth"
	"github.com/shawn/chat-relay/internal/delivery"
	"github.com/shawn/chat-relay/internal/humanize"
	"github.com/shawn/chat-relay/internal/lifecycle"
	"github.com/shawn/chat-relay/internal/lock"
	"github.com/shawn/chat-relay/internal/protocol"
	"github.com/shawn/chat-relay/internal/registry"
	"github.com/shawn/chat-relay/internal/session"
	"github.com/shawn/chat-relay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-token"

type testEnv struct {
	h      *api.Handler
	st     *store.MockStore
	reg    *registry.Registry
	dialer *protocol.MockDialer
	mgr    *lifecycle.Manager
	auth   *auth.Authenticator
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		st:     store.NewMock(),
		reg:    registry.New(lock.NewMemory()),
		dialer: protocol.NewMockDialer(),
		auth:   auth.New("jwt-secret", adminToken),
	}
	noSleep := humanize.SleepFunc(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	e.mgr = lifecycle.New(e.st, e.reg, e.dialer, nil, lifecycle.Config{
		RestoreWait:   100 * time.Millisecond,
		HandleOptions: []session.Option{session.WithSleeper(noSleep)},
	})
	del := delivery.New(e.reg, e.st, humanize.Defaults())
	e.h = api.New(e.st, e.mgr, del, e.auth, api.Config{})
	t.Cleanup(func() { e.mgr.Shutdown(context.Background()) })

	for _, id := range []string{"T1", "T2"} {
		require.NoError(t, e.st.CreateTenant(context.Background(), &store.TenantRecord{
			TenantID: id, Name: "Tenant " + id, Username: "user-" + id, MaxSessions: 1,
		}))
	}
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authz func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != nil {
		authz(req)
	}
	rec := httptest.NewRecorder()
	e.h.Router().ServeHTTP(rec, req)
	return rec
}

func asAdmin(req *http.Request) { req.Header.Set(auth.AdminHeader, adminToken) }

func (e *testEnv) asTenant(t *testing.T, tenantID string) func(*http.Request) {
	t.Helper()
	tok, err := e.auth.IssueToken(tenantID, "")
	require.NoError(t, err)
	return func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+tok) }
}

// startReady starts sessionID for tenantID with a client that connects
// immediately.
func (e *testEnv) startReady(t *testing.T, sessionID, tenantID string) *protocol.MockClient {
	t.Helper()
	ctx := context.Background()
	e.dialer.Configure = func(c *protocol.MockClient) {
		c.InitializeFunc = func(_ context.Context, c *protocol.MockClient) error {
			c.Emit(protocol.Event{Kind: protocol.EventReady, Identity: &protocol.Identity{PushName: "Phone " + c.SessionID}})
			return nil
		}
	}
	require.NoError(t, e.st.CreateSession(ctx, sessionID, tenantID, store.StatusInitializing))
	require.NoError(t, e.mgr.StartSession(ctx, sessionID, tenantID, false))
	require.Eventually(t, func() bool {
		h := e.reg.Lookup(sessionID)
		return h != nil && h.IsReady()
	}, 2*time.Second, 5*time.Millisecond)
	return e.dialer.Client(sessionID)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	e := newTestHandler(t)
	e.startReady(t, "S1", "T1")

	rec := e.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["active_sessions"])
	assert.Regexp(t, `^\d+\.\d{2}s$`, body["uptime"])
}

func TestAdminLogin(t *testing.T) {
	e := newTestHandler(t)
	rec := e.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": adminToken}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "guess"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateTenantAndLogin(t *testing.T) {
	e := newTestHandler(t)
	rec := e.do(t, http.MethodPost, "/api/tenants", map[string]any{
		"tenant_id": "acme", "name": "Acme", "username": "acme", "password": "hunter22",
		"webhook_url": "http://hooks.local/acme",
	}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter22")

	tenant, err := e.st.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, store.DefaultMaxSessions, tenant.MaxSessions)
	assert.True(t, auth.CheckPassword(tenant.PasswordHash, "hunter22"))

	rec = e.do(t, http.MethodPost, "/api/login", map[string]string{"username": "acme", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claims, err := e.auth.ParseToken(decode[map[string]string](t, rec)["token"])
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.TenantID)

	rec = e.do(t, http.MethodPost, "/api/login", map[string]string{"username": "acme", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateTenant_Validation(t *testing.T) {
	e := newTestHandler(t)
	body := map[string]any{"tenant_id": "T1", "name": "Dup", "username": "fresh", "password": "secret"}

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/tenants", body, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/api/tenants", body, asAdmin).Code)

	body = map[string]any{"tenant_id": "T3", "name": "No password", "username": "x"}
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/tenants", body, asAdmin).Code)
}

func TestUpdateTenantAndPassword(t *testing.T) {
	e := newTestHandler(t)
	rec := e.do(t, http.MethodPut, "/api/tenants/T1", map[string]any{"name": "Renamed", "max_sessions": 3}, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	tenant, _ := e.st.GetTenant(context.Background(), "T1")
	assert.Equal(t, "Renamed", tenant.Name)
	assert.Equal(t, 3, tenant.MaxSessions)

	rec = e.do(t, http.MethodPut, "/api/tenants/T1/password", map[string]string{"password": "short"}, asAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPut, "/api/tenants/T1/password", map[string]string{"password": "longenough"}, asAdmin)
	require.Equal(t, http.StatusNoContent, rec.Code)
	tenant, _ = e.st.GetTenant(context.Background(), "T1")
	assert.True(t, auth.CheckPassword(tenant.PasswordHash, "longenough"))

	rec = e.do(t, http.MethodPut, "/api/tenants/missing", map[string]any{"name": "x"}, asAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSession_Tenant(t *testing.T) {
	e := newTestHandler(t)
	e.dialer.Configure = func(c *protocol.MockClient) {
		c.InitializeFunc = func(_ context.Context, c *protocol.MockClient) error {
			c.Emit(protocol.Event{Kind: protocol.EventQR, Code: "2@scan-me"})
			return nil
		}
	}

	rec := e.do(t, http.MethodPost, "/sessions", nil, e.asTenant(t, "T1"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	sessionID := decode[map[string]string](t, rec)["session_id"]
	require.NotEmpty(t, sessionID)

	require.Eventually(t, func() bool {
		rec, _ := e.st.GetSession(context.Background(), sessionID)
		return rec != nil && rec.Status == store.StatusPendingScan
	}, 2*time.Second, 10*time.Millisecond)

	rec = e.do(t, http.MethodGet, "/sessions/"+sessionID+"/status", nil, e.asTenant(t, "T1"))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[store.SessionRecord](t, rec)
	assert.Equal(t, "2@scan-me", status.ScanCode)
	assert.Equal(t, "T1", status.TenantID)

	// another tenant cannot see it
	rec = e.do(t, http.MethodGet, "/sessions/"+sessionID+"/status", nil, e.asTenant(t, "T2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStartSession_LimitAppliesToTenantsOnly(t *testing.T) {
	e := newTestHandler(t)
	e.startReady(t, "S1", "T1")

	rec := e.do(t, http.MethodPost, "/sessions", nil, e.asTenant(t, "T1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/sessions", map[string]string{"tenant_id": "T1"}, asAdmin)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStartSession_TenantBusy(t *testing.T) {
	e := newTestHandler(t)
	ok, err := e.reg.MarkInitializing(context.Background(), "T1")
	require.NoError(t, err)
	require.True(t, ok)

	rec := e.do(t, http.MethodPost, "/sessions", nil, e.asTenant(t, "T1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	sessions, err := e.st.ListSessionsByTenant(context.Background(), "T1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStartSession_BadRequests(t *testing.T) {
	e := newTestHandler(t)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/sessions", nil, nil).Code)

	badToken := func(req *http.Request) { req.Header.Set("Authorization", "Bearer garbage") }
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/sessions", nil, badToken).Code)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/sessions", nil, asAdmin).Code)

	rec := e.do(t, http.MethodPost, "/sessions", map[string]string{"tenant_id": "ghost"}, asAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSend(t *testing.T) {
	e := newTestHandler(t)
	c := e.startReady(t, "S1", "T1")

	rec := e.do(t, http.MethodPost, "/sessions/S1/send", map[string]string{"chat_id": "123@c.us", "text": "hello there"}, e.asTenant(t, "T1"))
	require.Equal(t, http.StatusOK, rec.Code)

	sent := c.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "123@c.us", sent[0].ChatID)
	assert.Equal(t, "hello there", sent[0].Content.Text)
	assert.Positive(t, c.TypingCalls())
}

func TestSend_Errors(t *testing.T) {
	e := newTestHandler(t)
	c := e.startReady(t, "S1", "T1")
	require.NoError(t, e.st.CreateSession(context.Background(), "S2", "T1", store.StatusDisconnected))
	msg := map[string]string{"chat_id": "123@c.us", "text": "hi"}

	rec := e.do(t, http.MethodPost, "/sessions/S2/send", msg, e.asTenant(t, "T1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = e.do(t, http.MethodPost, "/sessions/S1/send", msg, e.asTenant(t, "T2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/sessions/missing/send", msg, asAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/sessions/S1/send", map[string]string{"chat_id": "123@c.us"}, asAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c.SendErr = assert.AnError
	rec = e.do(t, http.MethodPost, "/sessions/S1/send", msg, asAdmin)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSendMedia(t *testing.T) {
	e := newTestHandler(t)
	c := e.startReady(t, "S1", "T1")
	body := map[string]string{"chat_id": "123@c.us", "media_url": "http://cdn.local/cat.png", "caption": "look"}

	rec := e.do(t, http.MethodPost, "/api/sessions/S1/send-media", body, e.asTenant(t, "T1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, c.Sent(), 1)
	assert.Equal(t, "look", c.Sent()[0].Opts.Caption)

	c.FetchMediaFunc = func(context.Context, string) (*protocol.Media, error) {
		return &protocol.Media{Data: "AA=="}, nil
	}
	rec = e.do(t, http.MethodPost, "/api/sessions/S1/send-media", body, e.asTenant(t, "T1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "direct link")

	c.FetchMediaFunc = func(context.Context, string) (*protocol.Media, error) {
		return nil, assert.AnError
	}
	rec = e.do(t, http.MethodPost, "/api/sessions/S1/send-media", body, e.asTenant(t, "T1"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRenameSession(t *testing.T) {
	e := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, e.st.CreateSession(ctx, "S1", "T1", store.StatusConnected))
	require.NoError(t, e.st.CreateSession(ctx, "S2", "T1", store.StatusConnected))
	require.NoError(t, e.st.UpdateSession(ctx, "S2", store.SessionUpdate{Name: store.Ptr("Sales")}))
	tenant := e.asTenant(t, "T1")

	rec := e.do(t, http.MethodPut, "/api/sessions/S1/name", map[string]string{"name": "  Support  "}, tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := e.st.GetSession(ctx, "S1")
	assert.Equal(t, "Support", got.Name)

	rec = e.do(t, http.MethodPut, "/api/sessions/S1/name", map[string]string{"name": "Sales"}, tenant)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/sessions/S1/name", map[string]string{"name": "   "}, tenant)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/sessions/S1/name", map[string]string{"name": "Mine"}, e.asTenant(t, "T2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateHumanization(t *testing.T) {
	e := newTestHandler(t)
	tenant := e.asTenant(t, "T1")

	rec := e.do(t, http.MethodPut, "/user/settings/humanization", map[string]any{
		"min_char_delay": 300, "max_char_delay": 100,
	}, tenant)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/user/settings/humanization", map[string]any{
		"enabled": false, "min_char_delay": 20, "max_char_delay": 40, "error_probability": 0,
	}, tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[humanize.Policy](t, rec)
	assert.False(t, resolved.Enabled)
	assert.Equal(t, 40, resolved.MaxCharDelay)
	assert.Equal(t, humanize.Defaults().MaxPauseAfterTyping, resolved.MaxPauseAfterTyping)

	// a later partial update keeps earlier fields
	rec = e.do(t, http.MethodPut, "/user/settings/humanization", map[string]any{"max_backspace_chars": 1}, tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	rec2, _ := e.st.GetTenant(context.Background(), "T1")
	require.NotNil(t, rec2.Humanize.MaxCharDelay)
	assert.Equal(t, 40, *rec2.Humanize.MaxCharDelay)
	assert.Equal(t, 1, *rec2.Humanize.MaxBackspaceChars)
}

func TestUserDashboardAndAISettings(t *testing.T) {
	e := newTestHandler(t)
	tenant := e.asTenant(t, "T1")
	require.NoError(t, e.st.CreateSession(context.Background(), "S1", "T1", store.StatusConnected))

	rec := e.do(t, http.MethodPut, "/user/settings/ai", map[string]string{"ai_system_prompt": "be brief"}, tenant)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/user/dashboard-data", nil, tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tenant   store.TenantRecord     `json:"tenant"`
		Sessions []*store.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "be brief", body.Tenant.AISystemPrompt)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "S1", body.Sessions[0].SessionID)

	// tenant routes do not accept the admin token
	rec = e.do(t, http.MethodGet, "/api/user/dashboard-data", nil, asAdmin)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTerminateSessions(t *testing.T) {
	e := newTestHandler(t)
	c := e.startReady(t, "S1", "T1")

	rec := e.do(t, http.MethodDelete, "/api/user/sessions/S1", nil, e.asTenant(t, "T2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/user/sessions/S1", nil, e.asTenant(t, "T1"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, c.LoggedOut())
	assert.Nil(t, e.reg.Lookup("S1"))
	got, _ := e.st.GetSession(context.Background(), "S1")
	assert.Nil(t, got)

	// admin terminate is idempotent
	rec = e.do(t, http.MethodDelete, "/api/sessions/S1", nil, asAdmin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteTenant(t *testing.T) {
	e := newTestHandler(t)
	c := e.startReady(t, "S1", "T1")

	rec := e.do(t, http.MethodDelete, "/api/tenants/T1", nil, asAdmin)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.True(t, c.LoggedOut())
	assert.Zero(t, e.reg.Len())
	tenant, _ := e.st.GetTenant(context.Background(), "T1")
	assert.Nil(t, tenant)

	rec = e.do(t, http.MethodGet, "/api/dashboard-data", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tenants  []*store.TenantRecord  `json:"tenants"`
		Sessions []*store.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Tenants, 1)
	assert.Empty(t, body.Sessions)
}
