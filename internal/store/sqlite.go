package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shawn/chat-relay/internal/humanize"
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			username TEXT UNIQUE,
			password_hash TEXT,
			webhook_url TEXT,
			ai_system_prompt TEXT,
			max_sessions INTEGER NOT NULL DEFAULT 1,
			enable_humanization INTEGER,
			min_read_delay INTEGER,
			max_read_delay INTEGER,
			min_think_delay INTEGER,
			max_think_delay INTEGER,
			min_char_delay INTEGER,
			max_char_delay INTEGER,
			error_probability REAL,
			max_backspace_chars INTEGER,
			min_pause_after_typing INTEGER,
			max_pause_after_typing INTEGER,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL,
			name TEXT,
			scan_code TEXT,
			last_active_at TIMESTAMP NOT NULL,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE,
			UNIQUE (tenant_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// mapErr translates SQLite constraint failures into store errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return err
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

const tenantColumns = `id, name, username, password_hash, webhook_url, ai_system_prompt, max_sessions,
	enable_humanization, min_read_delay, max_read_delay, min_think_delay, max_think_delay,
	min_char_delay, max_char_delay, error_probability, max_backspace_chars,
	min_pause_after_typing, max_pause_after_typing, created_at`

func tenantArgs(r *TenantRecord) []any {
	h := r.Humanize
	return []any{
		r.TenantID, r.Name, nullString(r.Username), nullString(r.PasswordHash),
		nullString(r.WebhookURL), nullString(r.AISystemPrompt), int64(r.MaxSessions),
		nullBool(h.Enabled), nullInt(h.MinReadDelay), nullInt(h.MaxReadDelay),
		nullInt(h.MinThinkDelay), nullInt(h.MaxThinkDelay), nullInt(h.MinCharDelay),
		nullInt(h.MaxCharDelay), nullFloat(h.ErrorProbability), nullInt(h.MaxBackspaceChars),
		nullInt(h.MinPauseAfterTyping), nullInt(h.MaxPauseAfterTyping), r.CreatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*TenantRecord, error) {
	var (
		r                                  TenantRecord
		username, hash, webhook, prompt    sql.NullString
		enabled                            sql.NullBool
		minRead, maxRead, minThink         sql.NullInt64
		maxThink, minChar, maxChar, maxBsp sql.NullInt64
		minPause, maxPause                 sql.NullInt64
		errProb                            sql.NullFloat64
	)
	err := row.Scan(&r.TenantID, &r.Name, &username, &hash, &webhook, &prompt, &r.MaxSessions,
		&enabled, &minRead, &maxRead, &minThink, &maxThink, &minChar, &maxChar, &errProb, &maxBsp,
		&minPause, &maxPause, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Username = username.String
	r.PasswordHash = hash.String
	r.WebhookURL = webhook.String
	r.AISystemPrompt = prompt.String
	r.Humanize = humanize.Override{
		MinReadDelay:        intPtr(minRead),
		MaxReadDelay:        intPtr(maxRead),
		MinThinkDelay:       intPtr(minThink),
		MaxThinkDelay:       intPtr(maxThink),
		MinCharDelay:        intPtr(minChar),
		MaxCharDelay:        intPtr(maxChar),
		MaxBackspaceChars:   intPtr(maxBsp),
		MinPauseAfterTyping: intPtr(minPause),
		MaxPauseAfterTyping: intPtr(maxPause),
	}
	if enabled.Valid {
		r.Humanize.Enabled = &enabled.Bool
	}
	if errProb.Valid {
		r.Humanize.ErrorProbability = &errProb.Float64
	}
	return &r, nil
}

func (s *SQLiteStore) getTenant(ctx context.Context, where string, arg any) (*TenantRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+where, arg)
	r, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetTenant(ctx context.Context, tenantID string) (*TenantRecord, error) {
	return s.getTenant(ctx, "id = ?", tenantID)
}

func (s *SQLiteStore) GetTenantByUsername(ctx context.Context, username string) (*TenantRecord, error) {
	if username == "" {
		return nil, nil
	}
	return s.getTenant(ctx, "username = ?", username)
}

func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*TenantRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*TenantRecord
	for rows.Next() {
		r, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, r)
	}
	return tenants, rows.Err()
}

func (s *SQLiteStore) CreateTenant(ctx context.Context, record *TenantRecord) error {
	query := `INSERT INTO tenants (` + tenantColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, tenantArgs(record)...); err != nil {
		return fmt.Errorf("failed to create tenant: %w", mapErr(err))
	}
	return nil
}

func (s *SQLiteStore) UpdateTenant(ctx context.Context, record *TenantRecord) error {
	query := `UPDATE tenants SET name = ?, username = ?, password_hash = ?, webhook_url = ?,
	          ai_system_prompt = ?, max_sessions = ?, enable_humanization = ?,
	          min_read_delay = ?, max_read_delay = ?, min_think_delay = ?, max_think_delay = ?,
	          min_char_delay = ?, max_char_delay = ?, error_probability = ?, max_backspace_chars = ?,
	          min_pause_after_typing = ?, max_pause_after_typing = ?
	          WHERE id = ?`
	args := tenantArgs(record)
	// drop id and created_at from the front and back, then key by id
	args = append(args[1:len(args)-1], record.TenantID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s: %w", record.TenantID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteTenant(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	return nil
}

const sessionColumns = `id, tenant_id, status, name, scan_code, last_active_at`

func scanSession(row scanner) (*SessionRecord, error) {
	var (
		r              SessionRecord
		name, scanCode sql.NullString
	)
	if err := row.Scan(&r.SessionID, &r.TenantID, &r.Status, &name, &scanCode, &r.LastActiveAt); err != nil {
		return nil, err
	}
	r.Name = name.String
	r.ScanCode = scanCode.String
	return &r, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, where string, args ...any) ([]*SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY last_active_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	return s.querySessions(ctx, "")
}

func (s *SQLiteStore) ListSessionsByTenant(ctx context.Context, tenantID string) ([]*SessionRecord, error) {
	return s.querySessions(ctx, "tenant_id = ?", tenantID)
}

func (s *SQLiteStore) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]*SessionRecord, error) {
	return s.querySessions(ctx, "status = ?", string(status))
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID, tenantID string, status SessionStatus) error {
	query := `INSERT INTO sessions (id, tenant_id, status, last_active_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, sessionID, tenantID, string(status), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create session: %w", mapErr(err))
	}
	return nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, u SessionUpdate) error {
	set := []string{"last_active_at = ?"}
	args := []any{time.Now().UTC()}
	if u.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.ScanCode != nil {
		set = append(set, "scan_code = ?")
		args = append(args, nullString(*u.ScanCode))
	}
	if u.Name != nil {
		set = append(set, "name = ?")
		args = append(args, nullString(*u.Name))
	}
	args = append(args, sessionID)

	query := `UPDATE sessions SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CleanUpStaleSessions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE status IN (?, ?)`,
		string(StatusInitializing), string(StatusPendingScan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
