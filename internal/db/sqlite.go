package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations are applied in order; applied versions are tracked in the
// schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    query           TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    phase           TEXT NOT NULL DEFAULT '',
    confidence      REAL NOT NULL DEFAULT 0.0,
    evidence_count  INTEGER NOT NULL DEFAULT 0,
    entity_count    INTEGER NOT NULL DEFAULT 0,
    user_turns      INTEGER NOT NULL DEFAULT 0,
    snapshot        TEXT NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);

CREATE TABLE IF NOT EXISTS audit_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    resource        TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL DEFAULT '',
    result          TEXT NOT NULL DEFAULT '',
    error_code      TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS reports (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id          TEXT NOT NULL,
    session_id         TEXT NOT NULL,
    confidence         REAL NOT NULL DEFAULT 0.0,
    findings_count     INTEGER NOT NULL DEFAULT 0,
    generation_method  TEXT NOT NULL DEFAULT '',
    body               TEXT NOT NULL DEFAULT '{}',
    generated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id, generated_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate runs each pending migration and its schema_versions row in one
// transaction.
func (s *sqliteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_versions`)
	if err != nil {
		return fmt.Errorf("read schema_versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Sessions ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions(id, query, status, phase, confidence, evidence_count, entity_count, user_turns, snapshot, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status          = excluded.status,
            phase           = excluded.phase,
            confidence      = excluded.confidence,
            evidence_count  = excluded.evidence_count,
            entity_count    = excluded.entity_count,
            user_turns      = excluded.user_turns,
            snapshot        = excluded.snapshot,
            updated_at      = excluded.updated_at
    `,
		rec.ID, rec.Query, rec.Status, rec.Phase, rec.Confidence,
		rec.EvidenceCount, rec.EntityCount, rec.UserTurns, rec.Snapshot,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

const sessionColumns = `id,query,status,phase,confidence,evidence_count,entity_count,user_turns`

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`,snapshot,created_at,updated_at FROM sessions WHERE id=?`, id)
	rec := &SessionRecord{}
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Query, &rec.Status, &rec.Phase, &rec.Confidence,
		&rec.EvidenceCount, &rec.EntityCount, &rec.UserTurns, &rec.Snapshot, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

func (s *sqliteStore) ListSessions(ctx context.Context, limit, offset int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`,created_at,updated_at FROM sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SessionRecord
	for rows.Next() {
		rec := &SessionRecord{}
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Status, &rec.Phase, &rec.Confidence,
			&rec.EvidenceCount, &rec.EntityCount, &rec.UserTurns, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(createdAt)
		rec.UpdatedAt, _ = parseTime(updatedAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE session_id=?`, id); err != nil {
		return fmt.Errorf("delete reports: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// ─── Reports ──────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendReport(ctx context.Context, rec *ReportRecord) error {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO reports(report_id, session_id, confidence, findings_count, generation_method, body, generated_at)
        VALUES(?,?,?,?,?,?,?)
    `,
		rec.ReportID, rec.SessionID, rec.Confidence, rec.FindingsCount,
		rec.GenerationMethod, rec.Body, rec.GeneratedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

const reportColumns = `id,report_id,session_id,confidence,findings_count,generation_method,body,generated_at`

func (s *sqliteStore) LatestReport(ctx context.Context, sessionID string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE session_id=? ORDER BY generated_at DESC, id DESC LIMIT 1`, sessionID)
	rec, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for session %s: %w", sessionID, ErrNotFound)
	}
	return rec, err
}

func (s *sqliteStore) ListReports(ctx context.Context, sessionID string, limit int) ([]*ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE session_id=? ORDER BY generated_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*ReportRecord, error) {
	rec := &ReportRecord{}
	var generatedAt string
	err := row.Scan(&rec.ID, &rec.ReportID, &rec.SessionID, &rec.Confidence,
		&rec.FindingsCount, &rec.GenerationMethod, &rec.Body, &generatedAt)
	if err != nil {
		return nil, err
	}
	rec.GeneratedAt, _ = parseTime(generatedAt)
	return rec, nil
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEvent(ctx context.Context, rec *AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(correlation_id, event_type, description, resource, action, result, error_code, metadata, timestamp)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		rec.CorrelationID, rec.EventType, rec.Description, rec.Resource, rec.Action,
		rec.Result, rec.ErrorCode, rec.Metadata, rec.Timestamp.UTC(),
	)
	return err
}

func (s *sqliteStore) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT id,correlation_id,event_type,description,resource,action,result,error_code,metadata,timestamp FROM audit_events WHERE 1=1`
	args := []any{}

	if q.Resource != "" {
		query += ` AND resource = ?`
		args = append(args, q.Resource)
	}
	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, q.EventType)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.EventType, &rec.Description,
			&rec.Resource, &rec.Action, &rec.Result, &rec.ErrorCode, &rec.Metadata, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// parseTime accepts the layouts SQLite and the driver hand back.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
