package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/session"
	"github.com/kubilitics/kubilitics-intel/internal/stages"
)

// Archive adapts a Store to the session store, the orchestrator and the
// audit logger, which only know their own record shapes.
type Archive struct {
	store Store
}

// NewArchive wraps store.
func NewArchive(store Store) *Archive {
	return &Archive{store: store}
}

// Store returns the underlying store.
func (a *Archive) Store() Store { return a.store }

// ArchiveSession writes a snapshot of s.
func (a *Archive) ArchiveSession(ctx context.Context, s *session.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return a.store.SaveSession(ctx, &SessionRecord{
		ID:            s.ID,
		Query:         s.Query,
		Status:        string(s.Status),
		Phase:         string(s.Planning.Phase),
		Confidence:    s.Confidence,
		EvidenceCount: len(s.Evidence),
		EntityCount:   len(s.Entities),
		UserTurns:     s.UserTurns(),
		Snapshot:      string(body),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	})
}

// LoadSession decodes the archived snapshot of id.
func (a *Archive) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	rec, err := a.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	var s session.Session
	if err := json.Unmarshal([]byte(rec.Snapshot), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// ArchiveReport appends r to the session's report history.
func (a *Archive) ArchiveReport(ctx context.Context, r *stages.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}
	return a.store.AppendReport(ctx, &ReportRecord{
		ReportID:         r.ID,
		SessionID:        r.SessionID,
		Confidence:       r.Confidence,
		FindingsCount:    len(r.KeyFindings),
		GenerationMethod: r.GenerationMethod,
		Body:             string(body),
		GeneratedAt:      r.GeneratedAt,
	})
}

// LatestReport decodes the most recent report for sessionID.
func (a *Archive) LatestReport(ctx context.Context, sessionID string) (*stages.Report, error) {
	rec, err := a.store.LatestReport(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var r stages.Report
	if err := json.Unmarshal([]byte(rec.Body), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", rec.ReportID, err)
	}
	return &r, nil
}

// RecordAuditEvent mirrors a flushed audit event into audit_events.
func (a *Archive) RecordAuditEvent(ctx context.Context, ev *audit.Event) error {
	meta := "{}"
	if len(ev.Metadata) > 0 || ev.Error != "" {
		m := make(map[string]interface{}, len(ev.Metadata)+1)
		for k, v := range ev.Metadata {
			m[k] = v
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if b, err := json.Marshal(m); err == nil {
			meta = string(b)
		}
	}
	return a.store.AppendAuditEvent(ctx, &AuditRecord{
		CorrelationID: ev.CorrelationID,
		EventType:     string(ev.EventType),
		Description:   ev.Description,
		Resource:      ev.Resource,
		Action:        ev.Action,
		Result:        string(ev.Result),
		ErrorCode:     ev.ErrorCode,
		Metadata:      meta,
		Timestamp:     ev.Timestamp,
	})
}
