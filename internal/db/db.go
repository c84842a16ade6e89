package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the archive behind the in-memory session store. Sessions,
// reports and audit events survive restarts here; live state never reads
// from it.
type Store interface {
	SessionStore
	ReportStore
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Session archive ──────────────────────────────────────────────────────────

// SessionRecord is the archived form of an investigation session. Snapshot
// holds the full session as JSON; the other columns exist for listing.
type SessionRecord struct {
	ID            string    `json:"session_id"`
	Query         string    `json:"query"`
	Status        string    `json:"status"`
	Phase         string    `json:"phase"`
	Confidence    float64   `json:"confidence_score"`
	EvidenceCount int       `json:"evidence_count"`
	EntityCount   int       `json:"entity_count"`
	UserTurns     int       `json:"user_turns"`
	Snapshot      string    `json:"snapshot"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SessionStore persists session snapshots.
type SessionStore interface {
	// SaveSession creates or replaces the archived snapshot.
	SaveSession(ctx context.Context, rec *SessionRecord) error

	// GetSession returns ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// ListSessions returns records newest first, without snapshots.
	ListSessions(ctx context.Context, limit, offset int) ([]*SessionRecord, error)

	// DeleteSession removes a session and its reports.
	DeleteSession(ctx context.Context, id string) error
}

// ─── Report archive ───────────────────────────────────────────────────────────

// ReportRecord is a generated report. A session may be reported more than
// once; every generation is kept.
type ReportRecord struct {
	ID               int64     `json:"id"`
	ReportID         string    `json:"report_id"`
	SessionID        string    `json:"session_id"`
	Confidence       float64   `json:"confidence"`
	FindingsCount    int       `json:"findings_count"`
	GenerationMethod string    `json:"generation_method"`
	Body             string    `json:"body"` // JSON blob
	GeneratedAt      time.Time `json:"generated_at"`
}

// ReportStore persists synthesized reports.
type ReportStore interface {
	AppendReport(ctx context.Context, rec *ReportRecord) error

	// LatestReport returns the most recent report for a session, or
	// ErrNotFound.
	LatestReport(ctx context.Context, sessionID string) (*ReportRecord, error)

	// ListReports returns a session's reports, newest first.
	ListReports(ctx context.Context, sessionID string, limit int) ([]*ReportRecord, error)
}

// ─── Audit store ─────────────────────────────────────────────────────────────

// AuditRecord is the DB representation of an audit event.
type AuditRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	Result        string    `json:"result"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Metadata      string    `json:"metadata"` // JSON blob
	Timestamp     time.Time `json:"timestamp"`
}

// AuditStore persists audit log entries.
type AuditStore interface {
	// AppendAuditEvent appends an immutable audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents retrieves audit events with optional filters.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)
}

// AuditQuery filters audit event queries.
type AuditQuery struct {
	Resource  string
	EventType string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}
