package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/session"
	"github.com/kubilitics/kubilitics-intel/internal/stages"
)

func TestArchiveSessionRoundTrip(t *testing.T) {
	a := NewArchive(newTestStore(t))
	ctx := context.Background()

	s := session.New("sess-42", "Who does John Smith work for?")
	s.Status = session.StatusWaitingForInput
	s.Entities = append(s.Entities, session.Entity{Name: "John Smith", Type: session.EntityPerson})
	s.AppendEvidence(session.Evidence{Content: "Works at Acme", Confidence: 0.8})
	s.AddMessage(session.Message{Agent: session.UserAgent, Text: "He works at Acme", Type: "response"})

	if err := a.ArchiveSession(ctx, s); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	rec, err := a.Store().GetSession(ctx, "sess-42")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.EvidenceCount != 1 || rec.EntityCount != 1 || rec.UserTurns != 1 {
		t.Errorf("unexpected counters: %+v", rec)
	}
	if rec.Status != string(session.StatusWaitingForInput) {
		t.Errorf("expected WAITING_FOR_INPUT, got %s", rec.Status)
	}

	got, err := a.LoadSession(ctx, "sess-42")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.Query != s.Query || len(got.Evidence) != 1 || got.Evidence[0].Content != "Works at Acme" {
		t.Errorf("snapshot did not survive: %+v", got)
	}
}

func TestArchiveReport(t *testing.T) {
	a := NewArchive(newTestStore(t))
	ctx := context.Background()

	if _, err := a.LatestReport(ctx, "sess-42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	r := &stages.Report{
		ID:               stages.ReportID("sess-42"),
		SessionID:        "sess-42",
		ExecutiveSummary: "Investigation conducted",
		KeyFindings:      []stages.Finding{{Finding: "Works at Acme", Confidence: 0.8}},
		Confidence:       0.4,
		GenerationMethod: "fallback",
		GeneratedAt:      time.Now(),
	}
	if err := a.ArchiveReport(ctx, r); err != nil {
		t.Fatalf("ArchiveReport: %v", err)
	}

	got, err := a.LatestReport(ctx, "sess-42")
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if got.ID != "report_sess-42" || len(got.KeyFindings) != 1 || got.GenerationMethod != "fallback" {
		t.Errorf("report did not survive: %+v", got)
	}
}

func TestRecordAuditEvent(t *testing.T) {
	a := NewArchive(newTestStore(t))
	ctx := context.Background()

	ev := audit.NewEvent(audit.EventSessionFailed).
		WithSession("sess-7").
		WithAction("fail").
		WithError(errors.New("model unavailable"), "pipeline_error").
		WithMetadata("stage", "planning")

	if err := a.RecordAuditEvent(ctx, ev); err != nil {
		t.Fatalf("RecordAuditEvent: %v", err)
	}

	recs, err := a.Store().QueryAuditEvents(ctx, AuditQuery{Resource: "sess-7"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(recs))
	}
	if recs[0].EventType != string(audit.EventSessionFailed) || recs[0].Result != "failure" ||
		recs[0].Action != "fail" || recs[0].ErrorCode != "pipeline_error" {
		t.Errorf("unexpected record: %+v", recs[0])
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(recs[0].Metadata), &meta); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if meta["stage"] != "planning" || meta["error"] != "model unavailable" {
		t.Errorf("unexpected metadata: %v", meta)
	}
}
