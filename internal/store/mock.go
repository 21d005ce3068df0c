package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory store for testing
type MockStore struct {
	mu       sync.RWMutex
	tenants  map[string]*TenantRecord
	sessions map[string]*SessionRecord
}

func NewMock() *MockStore {
	return &MockStore{
		tenants:  make(map[string]*TenantRecord),
		sessions: make(map[string]*SessionRecord),
	}
}

func (m *MockStore) GetTenant(_ context.Context, tenantID string) (*TenantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MockStore) GetTenantByUsername(_ context.Context, username string) (*TenantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.tenants {
		if username != "" && r.Username == username {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockStore) ListTenants(_ context.Context) ([]*TenantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*TenantRecord, 0, len(m.tenants))
	for _, r := range m.tenants {
		cp := *r
		records = append(records, &cp)
	}
	sortTenants(records)
	return records, nil
}

// usernameTakenLocked reports whether another tenant already uses username.
func (m *MockStore) usernameTakenLocked(tenantID, username string) bool {
	if username == "" {
		return false
	}
	for id, r := range m.tenants {
		if id != tenantID && r.Username == username {
			return true
		}
	}
	return false
}

func (m *MockStore) CreateTenant(_ context.Context, record *TenantRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[record.TenantID]; ok {
		return ErrConflict
	}
	if m.usernameTakenLocked(record.TenantID, record.Username) {
		return ErrConflict
	}
	cp := *record
	m.tenants[record.TenantID] = &cp
	return nil
}

func (m *MockStore) UpdateTenant(_ context.Context, record *TenantRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[record.TenantID]; !ok {
		return ErrNotFound
	}
	if m.usernameTakenLocked(record.TenantID, record.Username) {
		return ErrConflict
	}
	cp := *record
	m.tenants[record.TenantID] = &cp
	return nil
}

func (m *MockStore) DeleteTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
	for id, s := range m.sessions {
		if s.TenantID == tenantID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *MockStore) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MockStore) listSessions(keep func(*SessionRecord) bool) []*SessionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*SessionRecord
	for _, r := range m.sessions {
		if keep(r) {
			cp := *r
			result = append(result, &cp)
		}
	}
	sortSessions(result)
	return result
}

func (m *MockStore) ListSessions(_ context.Context) ([]*SessionRecord, error) {
	return m.listSessions(func(*SessionRecord) bool { return true }), nil
}

func (m *MockStore) ListSessionsByTenant(_ context.Context, tenantID string) ([]*SessionRecord, error) {
	return m.listSessions(func(r *SessionRecord) bool { return r.TenantID == tenantID }), nil
}

func (m *MockStore) ListSessionsByStatus(_ context.Context, status SessionStatus) ([]*SessionRecord, error) {
	return m.listSessions(func(r *SessionRecord) bool { return r.Status == status }), nil
}

func (m *MockStore) CreateSession(_ context.Context, sessionID, tenantID string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return ErrConflict
	}
	if _, ok := m.tenants[tenantID]; !ok {
		return ErrNotFound
	}
	m.sessions[sessionID] = &SessionRecord{
		SessionID:    sessionID,
		TenantID:     tenantID,
		Status:       status,
		LastActiveAt: time.Now().UTC(),
	}
	return nil
}

func (m *MockStore) UpdateSession(_ context.Context, sessionID string, u SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if u.Name != nil && *u.Name != "" {
		for id, other := range m.sessions {
			if id != sessionID && other.TenantID == r.TenantID && other.Name == *u.Name {
				return ErrConflict
			}
		}
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.ScanCode != nil {
		r.ScanCode = *u.ScanCode
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	r.LastActiveAt = time.Now().UTC()
	return nil
}

func (m *MockStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MockStore) CleanUpStaleSessions(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for id, r := range m.sessions {
		if IsStale(r.Status) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Close() error { return nil }

func sortTenants(t []*TenantRecord) {
	sort.Slice(t, func(i, j int) bool {
		if t[i].Name == t[j].Name {
			return t[i].TenantID < t[j].TenantID
		}
		return t[i].Name < t[j].Name
	})
}

// sortSessions orders most recently active first.
func sortSessions(s []*SessionRecord) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].LastActiveAt.Equal(s[j].LastActiveAt) {
			return s[i].SessionID < s[j].SessionID
		}
		return s[i].LastActiveAt.After(s[j].LastActiveAt)
	})
}
