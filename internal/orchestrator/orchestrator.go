// Package orchestrator drives an investigation through its stages and owns
// the session state machine.
//
// Start runs query analysis, planning and the first question set. Respond
// folds one answer into the session and either asks the next questions or
// closes the interview. Report synthesizes the final report. Every call
// claims the session by moving it to IN_PROGRESS, so a concurrent call on
// the same session fails with *session.InvalidStateError.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/events"
	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
	"github.com/kubilitics/kubilitics-intel/internal/memory"
	"github.com/kubilitics/kubilitics-intel/internal/metrics"
	"github.com/kubilitics/kubilitics-intel/internal/session"
	"github.com/kubilitics/kubilitics-intel/internal/stages"
)

// Stop heuristic. Fixed per process; not configurable.
const (
	MaxUserTurns  = 20
	MinEvidence   = 5
	MinConfidence = 0.7
	MaxOpenGaps   = 3
)

// Agent names used by the orchestrator's own messages.
const (
	PipelineAgent = "Intelligence Pipeline"
	SystemAgent   = "System"
)

// ErrEmptyAnswer is returned by Respond for a blank answer.
var ErrEmptyAnswer = errors.New("answer is required")

// ReportArchiver persists generated reports.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, r *stages.Report) error
}

// Config holds the janitor settings.
type Config struct {
	MemoryCleanupInterval time.Duration
	MemoryMaxAge          time.Duration
	SessionMaxIdle        time.Duration
}

// ConfigFrom maps the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MemoryCleanupInterval: time.Duration(cfg.Memory.CleanupIntervalMinutes) * time.Minute,
		MemoryMaxAge:          time.Duration(cfg.Memory.CleanupMaxAgeHours) * time.Hour,
		SessionMaxIdle:        time.Duration(cfg.Sessions.MaxIdleHours) * time.Hour,
	}
}

// Summary is the compact status view of an investigation.
type Summary struct {
	SessionID          string         `json:"session_id"`
	Status             session.Status `json:"status"`
	EntitiesIdentified int            `json:"entities_identified"`
	EvidenceCollected  int            `json:"evidence_collected"`
	ConfidenceScore    float64        `json:"confidence_score"`
	InformationGaps    int            `json:"information_gaps"`
	ConversationTurns  int            `json:"conversation_turns"`
	CurrentPhase       session.Phase  `json:"current_phase"`
	Complexity         string         `json:"complexity"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Orchestrator sequences the stages over sessions held in a session.Store.
type Orchestrator struct {
	store *session.Store

	queryAnalysis *stages.QueryAnalysis
	planning      *stages.Planning
	retrieval     *stages.Retrieval
	pivot         *stages.Pivot
	synthesis     *stages.Synthesis

	memory   *memory.Manager
	hub      *events.Hub
	sink     events.Sink
	reports  ReportArchiver
	auditLog audit.Logger
	logger   *zap.Logger
	cfg      Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithMemory(m *memory.Manager) Option {
	return func(o *Orchestrator) { o.memory = m }
}

func WithSink(s events.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithReportArchiver(r ReportArchiver) Option {
	return func(o *Orchestrator) { o.reports = r }
}

func WithConfig(c Config) Option {
	return func(o *Orchestrator) { o.cfg = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithAuditLogger(a audit.Logger) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.auditLog = a
		}
	}
}

// New wires the five stages to gen. A nil gen runs every stage on its
// deterministic fallback.
func New(store *session.Store, gen types.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		hub:      events.NewHub(),
		sink:     events.NopSink{},
		auditLog: audit.NewNopLogger(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = events.NopSink{}
	}

	d := stages.Deps{LLM: gen, Logger: o.logger, AuditLog: o.auditLog}
	o.queryAnalysis = stages.NewQueryAnalysis(d)
	o.planning = stages.NewPlanning(d)
	o.retrieval = stages.NewRetrieval(d)
	o.pivot = stages.NewPivot(d)
	var summarizer stages.ContextSummarizer
	if o.memory != nil {
		summarizer = o.memory
	}
	o.synthesis = stages.NewSynthesis(d, summarizer)
	return o
}

// Start creates a session for query and runs the opening chain. On failure
// the session is left FAILED and its snapshot is returned with the error.
func (o *Orchestrator) Start(ctx context.Context, query string) (*session.Session, error) {
	created, err := o.store.Create(ctx, query)
	if err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Set(float64(o.store.Len()))
	log := o.logger.With(zap.String("session_id", created.ID))
	log.Info("investigation started", zap.String("query", created.Query))

	work, err := o.store.Transition(ctx, created.ID, session.StatusInProgress)
	if err != nil {
		return created, err
	}
	o.emitStatus(ctx, work)

	for _, p := range []stages.Processor{o.queryAnalysis, o.planning, o.retrieval} {
		if err := p.Process(ctx, work); err != nil {
			return o.fail(ctx, work, p.Name(), err)
		}
	}

	work.AddMessage(session.Message{
		Agent: PipelineAgent,
		Text: fmt.Sprintf("Intelligence gathering pipeline initialized. Identified %d target entities with %s complexity. Investigation proceeding in %s phase with strategic questioning approach.",
			len(work.Entities), orUnknown(work.Analysis.Complexity), work.Planning.Phase),
		Type: "system",
		Metadata: map[string]interface{}{
			"pipeline_phase": "initialization",
			"entities_count": len(work.Entities),
			"complexity":     work.Analysis.Complexity,
			"current_phase":  string(work.Planning.Phase),
		},
	})
	work.Status = session.StatusWaitingForInput

	snap, err := o.store.Save(ctx, work)
	if err != nil {
		return nil, err
	}
	o.observe(snap)
	o.emitCycle(ctx, snap, 0)
	log.Info("awaiting first answer", zap.Int("entities", len(snap.Entities)), zap.Int("questions", len(snap.Questions)))
	return snap, nil
}

// Respond records answer and runs one interview cycle.
func (o *Orchestrator) Respond(ctx context.Context, id, answer string) (*session.Session, error) {
	cur, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrEmptyAnswer
	}
	if cur.Status != session.StatusWaitingForInput {
		return nil, &session.InvalidStateError{ID: id, From: cur.Status, To: session.StatusInProgress}
	}
	work, err := o.store.Transition(ctx, id, session.StatusInProgress)
	if err != nil {
		return nil, err
	}
	o.emitStatus(ctx, work)
	mark := len(work.History)

	work.AddMessage(session.Message{Agent: session.UserAgent, Text: answer, Type: "response"})
	_ = o.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionResponse).
		WithSession(id).
		WithAction("respond").
		WithResult(audit.ResultSuccess).
		WithMetadata("turn", work.UserTurns()))

	if err := o.pivot.Process(ctx, work, answer); err != nil {
		return o.release(ctx, work, err)
	}
	if err := o.planning.UpdateStrategy(ctx, work); err != nil {
		return o.release(ctx, work, err)
	}
	o.observe(work)

	if ShouldContinue(work) {
		if pa, ok := pivotAnalysisFrom(work, mark); ok {
			err = o.retrieval.AdaptFromPivot(ctx, work, pa)
		} else {
			err = o.retrieval.Process(ctx, work)
		}
		if err != nil {
			return o.release(ctx, work, err)
		}
		work.Status = session.StatusWaitingForInput
	} else {
		work.AddMessage(session.Message{
			Agent: SystemAgent,
			Text:  "Investigation phase complete. Sufficient intelligence gathered for comprehensive analysis.",
			Type:  "system",
			Metadata: map[string]interface{}{
				"phase":          "completion",
				"evidence_count": len(work.Evidence),
			},
		})
		work.Status = session.StatusCompleted
	}

	snap, err := o.store.Save(ctx, work)
	if err != nil {
		return nil, err
	}
	if snap.Status == session.StatusCompleted {
		o.finished(ctx, snap)
	}
	o.emitCycle(ctx, snap, mark)
	return snap, nil
}

// Report synthesizes the final report. A waiting session is completed; a
// completed one may be reported any number of times; a failed one still
// gets a report but stays FAILED.
func (o *Orchestrator) Report(ctx context.Context, id string) (*stages.Report, error) {
	cur, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}

	work := cur
	switch cur.Status {
	case session.StatusWaitingForInput:
		if work, err = o.store.Transition(ctx, id, session.StatusInProgress); err != nil {
			return nil, err
		}
	case session.StatusCompleted, session.StatusFailed:
	default:
		return nil, &session.InvalidStateError{ID: id, From: cur.Status, To: session.StatusCompleted}
	}
	mark := len(work.History)

	report, err := o.synthesis.GenerateReport(ctx, work)
	if err != nil {
		if work.Status == session.StatusInProgress {
			_, _ = o.release(ctx, work, err)
		}
		return nil, err
	}

	completing := work.Status == session.StatusInProgress
	snap, err := o.store.Mutate(ctx, id, func(s *session.Session) error {
		s.AddMessage(session.Message{
			Agent: stages.SynthesisAgent,
			Text: fmt.Sprintf("Comprehensive intelligence report generated with %d key findings and confidence score of %.2f",
				len(report.KeyFindings), report.Confidence),
			Type: "report",
			Metadata: map[string]interface{}{
				"report_id":         report.ID,
				"findings_count":    len(report.KeyFindings),
				"confidence_score":  report.Confidence,
				"generation_method": report.GenerationMethod,
			},
		})
		if s.Status != session.StatusFailed {
			s.Status = session.StatusCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReportsGenerated.Inc()
	_ = o.auditLog.LogReportGenerated(ctx, id, len(report.KeyFindings), report.Confidence)
	if completing {
		o.finished(ctx, snap)
	}
	if o.reports != nil {
		if err := o.reports.ArchiveReport(ctx, report); err != nil {
			o.logger.Warn("failed to archive report", zap.String("session_id", id), zap.Error(err))
		}
	}

	o.emitCycle(ctx, snap, mark)
	o.emit(ctx, events.Event{Type: events.TypeReport, SessionID: id, Status: snap.Status, Data: report})
	return report, nil
}

// Get returns a snapshot of the session.
func (o *Orchestrator) Get(id string) (*session.Session, error) {
	return o.store.Get(id)
}

// List returns snapshots of every session, oldest first.
func (o *Orchestrator) List() []*session.Session {
	return o.store.List()
}

// Summary returns the compact status view of a session.
func (o *Orchestrator) Summary(id string) (*Summary, error) {
	s, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return &Summary{
		SessionID:          s.ID,
		Status:             s.Status,
		EntitiesIdentified: len(s.Entities),
		EvidenceCollected:  len(s.Evidence),
		ConfidenceScore:    s.Confidence,
		InformationGaps:    len(s.Gaps),
		ConversationTurns:  s.UserTurns(),
		CurrentPhase:       s.Planning.Phase,
		Complexity:         orUnknown(s.Analysis.Complexity),
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}, nil
}

// Delete removes the session and everything tracked for it.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	o.forget(id)
	metrics.ActiveSessions.Set(float64(o.store.Len()))
	if err := o.sink.Publish(ctx, events.Event{Type: events.TypeDeleted, SessionID: id, Timestamp: time.Now()}); err != nil {
		o.logger.Warn("failed to publish event", zap.String("session_id", id), zap.Error(err))
	}
	o.hub.CloseSession(id)
	return nil
}

// Subscribe streams the session's events until Unsubscribe, Delete or
// Close. The store is checked again after registering so a Delete racing
// with Subscribe cannot leave an orphaned subscriber.
func (o *Orchestrator) Subscribe(id string) (*events.Subscriber, error) {
	if _, err := o.store.Get(id); err != nil {
		return nil, err
	}
	sub := o.hub.Subscribe(id)
	if _, err := o.store.Get(id); err != nil {
		o.hub.Unsubscribe(id, sub)
		return nil, err
	}
	return sub, nil
}

// Unsubscribe stops delivery to sub and closes its channel.
func (o *Orchestrator) Unsubscribe(id string, sub *events.Subscriber) {
	o.hub.Unsubscribe(id, sub)
}

// Memory returns the memory manager, or nil when none is configured.
func (o *Orchestrator) Memory() *memory.Manager { return o.memory }

// Close closes every subscriber and the event sink.
func (o *Orchestrator) Close() error {
	o.hub.Close()
	return o.sink.Close()
}

// ShouldContinue applies the stop heuristic to a session that has just
// absorbed an answer.
func ShouldContinue(s *session.Session) bool {
	cont := s.UserTurns() < MaxUserTurns &&
		(len(s.Evidence) < MinEvidence || s.Confidence < MinConfidence || len(s.Gaps) > MaxOpenGaps)
	if s.Planning.PhaseStatus == session.PhaseOnTrack && s.Planning.Phase == session.PhaseExploitation {
		cont = false
	}
	return cont
}

// pivotAnalysisFrom rebuilds the pivot result from the pivot message written
// during this cycle (history index >= mark).
func pivotAnalysisFrom(s *session.Session, mark int) (stages.PivotAnalysis, bool) {
	for i := len(s.History) - 1; i >= mark; i-- {
		m := s.History[i]
		if m.Agent != stages.PivotAgent || m.Type != "analysis" {
			continue
		}
		credibility := 0.5
		if v, ok := m.Metadata["credibility_score"].(float64); ok {
			credibility = v
		}
		density, _ := m.Metadata["information_density"].(string)
		return stages.PivotAnalysis{
			Credibility:        credibility,
			InformationDensity: density,
			NewAngles:          append([]string(nil), s.Focus...),
			NewGaps:            lastN(s.Gaps, 3),
			NextFocus:          firstN(s.Focus, 2),
		}, true
	}
	return stages.PivotAnalysis{}, false
}

// fail marks the session FAILED after the opening chain broke.
func (o *Orchestrator) fail(ctx context.Context, work *session.Session, stage string, cause error) (*session.Session, error) {
	o.logger.Error("investigation failed",
		zap.String("session_id", work.ID),
		zap.String("stage", stage),
		zap.Error(cause))

	work.AddMessage(session.Message{
		Agent:    PipelineAgent,
		Text:     fmt.Sprintf("Investigation failed during %s: %v", stage, cause),
		Type:     "error",
		Metadata: map[string]interface{}{"stage": stage},
	})
	work.Status = session.StatusFailed

	// The caller's context may be the reason we failed.
	saveCtx := context.WithoutCancel(ctx)
	snap, err := o.store.Save(saveCtx, work)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	metrics.SessionsFinished.WithLabelValues(string(session.StatusFailed)).Inc()
	_ = o.auditLog.LogSessionFailed(saveCtx, work.ID, cause)
	o.emitCycle(saveCtx, snap, 0)
	return snap, fmt.Errorf("%s: %w", stage, cause)
}

// release hands a claimed session back to WAITING_FOR_INPUT after a
// cancelled cycle. Evidence gathered so far is kept.
func (o *Orchestrator) release(ctx context.Context, work *session.Session, cause error) (*session.Session, error) {
	o.logger.Warn("cycle interrupted",
		zap.String("session_id", work.ID),
		zap.Error(cause))
	work.Status = session.StatusWaitingForInput
	snap, err := o.store.Save(context.WithoutCancel(ctx), work)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	o.emitStatus(context.WithoutCancel(ctx), snap)
	return snap, cause
}

func (o *Orchestrator) finished(ctx context.Context, snap *session.Session) {
	metrics.SessionsFinished.WithLabelValues(string(snap.Status)).Inc()
	metrics.UserTurns.Observe(float64(snap.UserTurns()))

	_ = o.auditLog.LogSessionCompleted(ctx, snap.ID, time.Since(snap.CreatedAt), len(snap.Evidence))
	o.logger.Info("investigation completed",
		zap.String("session_id", snap.ID),
		zap.Int("user_turns", snap.UserTurns()),
		zap.Int("evidence", len(snap.Evidence)),
		zap.Float64("confidence", snap.Confidence))
}

func (o *Orchestrator) observe(s *session.Session) {
	if o.memory != nil {
		o.memory.Observe(s)
	}
}

func (o *Orchestrator) forget(id string) {
	if o.memory != nil {
		o.memory.Forget(id)
	}
}

func (o *Orchestrator) emitStatus(ctx context.Context, s *session.Session) {
	o.emit(ctx, events.Event{Type: events.TypeStatus, SessionID: s.ID, Status: s.Status})
}

// emitCycle publishes the messages appended since mark, the open questions
// and the new status.
func (o *Orchestrator) emitCycle(ctx context.Context, s *session.Session, mark int) {
	for i := mark; i < len(s.History); i++ {
		m := s.History[i]
		o.emit(ctx, events.Event{Type: events.TypeMessage, SessionID: s.ID, Status: s.Status, Message: &m})
	}
	if s.Status == session.StatusWaitingForInput && len(s.Questions) > 0 {
		o.emit(ctx, events.Event{Type: events.TypeQuestions, SessionID: s.ID, Status: s.Status, Questions: append([]string(nil), s.Questions...)})
	}
	o.emitStatus(ctx, s)
}

func (o *Orchestrator) emit(ctx context.Context, ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.hub.Publish(ev)
	if err := o.sink.Publish(ctx, ev); err != nil {
		o.logger.Warn("failed to publish event",
			zap.String("session_id", ev.SessionID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		list = list[:n]
	}
	return append([]string(nil), list...)
}

func lastN(list []string, n int) []string {
	if len(list) > n {
		list = list[len(list)-n:]
	}
	return append([]string(nil), list...)
}
