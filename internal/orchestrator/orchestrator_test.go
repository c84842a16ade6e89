package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/events"
	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
	"github.com/kubilitics/kubilitics-intel/internal/memory"
	"github.com/kubilitics/kubilitics-intel/internal/session"
	"github.com/kubilitics/kubilitics-intel/internal/stages"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scripted answers per stage; stages without a reply get a provider error.
type scripted struct {
	mu      sync.Mutex
	replies map[string]string
	prompts map[string][]string
	block   map[string]chan struct{}
}

func newScripted(replies map[string]string) *scripted {
	return &scripted{replies: replies, prompts: map[string][]string{}, block: map[string]chan struct{}{}}
}

func (g *scripted) Generate(ctx context.Context, prompt, _ string, opts types.Options) (string, error) {
	g.mu.Lock()
	g.prompts[opts.Stage] = append(g.prompts[opts.Stage], prompt)
	reply, ok := g.replies[opts.Stage]
	wait := g.block[opts.Stage]
	g.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", &types.ProviderError{Provider: "fake", Err: errors.New("no reply scripted")}
	}
	return reply, nil
}

func (g *scripted) promptsFor(stage string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts[stage]...)
}

const (
	analysisReply = `{"query_classification": {"complexity": "complex"},
  "primary_entities": [{"name": "John Smith", "type": "person", "priority": "high"}]}`
	// Planning serves both the initial plan and strategy updates.
	planReply = `{"mission_analysis": {"primary_objectives": ["Identify employer"], "critical_information_requirements": ["Employer", "Associates"]},
  "collection_strategy": {"phase_1_immediate": {"objectives": ["Confirm identity"]}},
  "strategy_assessment": {"current_phase_status": "needs_adjustment"}}`
	questionsReply = `{"questions": [{"question_text": "Where does John Smith work?", "priority": "high"}],
  "adapted_questions": [{"question_text": "Which bank does he use?"}]}`
	pivotReply = `{"intelligence_value": {"credibility_score": 0.8, "key_revelations": ["Banks in Zurich"]},
  "pivot_opportunities": {"new_investigation_angles": ["finances"], "information_gaps_identified": ["Account numbers"]},
  "evidence_assessment": {"actionable_intelligence": ["Works at Acme Corp"]}}`
)

func fullScript() *scripted {
	return newScripted(map[string]string{
		config.StageQueryAnalysis: analysisReply,
		config.StagePlanning:      planReply,
		config.StageRetrieval:     questionsReply,
		config.StagePivot:         pivotReply,
		config.StageSynthesis:     `{"executive_summary": "He works at Acme.", "key_findings": [{"finding": "Acme", "confidence_score": 0.9}]}`,
	})
}

func newTestOrchestrator(t *testing.T, gen types.Generator, opts ...Option) (*Orchestrator, *session.Store) {
	t.Helper()
	store := session.NewStore(nil)
	o := New(store, gen, opts...)
	t.Cleanup(func() { _ = o.Close() })
	return o, store
}

func startWaiting(t *testing.T, o *Orchestrator) *session.Session {
	t.Helper()
	s, err := o.Start(context.Background(), "Who does John Smith work for?")
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingForInput, s.Status)
	return s
}

func mutate(t *testing.T, store *session.Store, id string, fn func(*session.Session)) {
	t.Helper()
	_, err := store.Mutate(context.Background(), id, func(s *session.Session) error {
		fn(s)
		return nil
	})
	require.NoError(t, err)
}

func TestStartDegradedMode(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	s := startWaiting(t, o)

	assert.NotEmpty(t, s.Entities)
	assert.NotEmpty(t, s.Questions)
	assert.LessOrEqual(t, len(s.Questions), stages.MaxQuestions)
	require.NotNil(t, s.Planning.Plan)

	last := s.History[len(s.History)-1]
	assert.Equal(t, PipelineAgent, last.Agent)
	assert.Equal(t, "system", last.Type)
	assert.Contains(t, last.Text, "Intelligence gathering pipeline initialized. Identified")
	assert.Equal(t, "initialization", last.Metadata["pipeline_phase"])
}

func TestStartWithModel(t *testing.T) {
	gen := fullScript()
	o, _ := newTestOrchestrator(t, gen)

	s := startWaiting(t, o)

	require.Len(t, s.Entities, 1)
	assert.Equal(t, "John Smith", s.Entities[0].Name)
	assert.Equal(t, []string{"Employer", "Associates"}, s.Gaps)
	assert.Equal(t, []string{"Where does John Smith work?"}, s.Questions)
	assert.Equal(t, "Intelligence gathering pipeline initialized. Identified 1 target entities with complex complexity. Investigation proceeding in immediate phase with strategic questioning approach.",
		s.History[len(s.History)-1].Text)
}

func TestStartRejectsEmptyQuery(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)

	_, err := o.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, session.ErrEmptyQuery)
	assert.Equal(t, 0, store.Len())
}

func TestStartFailureMarksFailed(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := o.Start(ctx, "Who is John Smith?")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, s)
	assert.Equal(t, session.StatusFailed, s.Status)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)

	_, err = o.Respond(context.Background(), s.ID, "hello")
	var ise *session.InvalidStateError
	assert.ErrorAs(t, err, &ise)
}

func TestRespondContinuesWhileThresholdsUnmet(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	mutate(t, store, s.ID, func(s *session.Session) {
		s.Confidence = 0.5
		s.Gaps = []string{"a", "b", "c", "d"}
	})

	got, err := o.Respond(context.Background(), s.ID, "He works at Acme.")
	require.NoError(t, err)

	assert.Equal(t, session.StatusWaitingForInput, got.Status)
	assert.Equal(t, 1, got.UserTurns())
	assert.Len(t, got.Evidence, 1)
	assert.NotEmpty(t, got.Questions)
	assert.Equal(t, "question", got.History[len(got.History)-1].Type)
}

func TestRespondStopsInExploitationOnTrack(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	mutate(t, store, s.ID, func(s *session.Session) {
		s.Planning.Phase = session.PhaseExploitation
		s.Planning.PhaseStatus = session.PhaseOnTrack
	})

	got, err := o.Respond(context.Background(), s.ID, "Nothing useful.")
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, got.Status)
	last := got.History[len(got.History)-1]
	assert.Equal(t, SystemAgent, last.Agent)
	assert.Equal(t, "Investigation phase complete. Sufficient intelligence gathered for comprehensive analysis.", last.Text)
	assert.Equal(t, "completion", last.Metadata["phase"])
}

func TestRespondStopsAfterTwentyTurns(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	mutate(t, store, s.ID, func(s *session.Session) {
		for i := 0; i < MaxUserTurns; i++ {
			s.AddMessage(session.Message{Agent: session.UserAgent, Text: fmt.Sprintf("answer %d", i), Type: "response"})
		}
	})

	got, err := o.Respond(context.Background(), s.ID, "one more")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
}

func TestRespondStopsWhenThresholdsMet(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	mutate(t, store, s.ID, func(s *session.Session) {
		for i := 0; i < MinEvidence; i++ {
			s.AppendEvidence(session.Evidence{Content: fmt.Sprintf("fact %d", i), Confidence: 0.9})
		}
		s.Confidence = 0.8
		s.Gaps = nil
	})

	got, err := o.Respond(context.Background(), s.ID, "final detail")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
}

func TestRespondUsesPivotAdaptation(t *testing.T) {
	gen := fullScript()
	o, _ := newTestOrchestrator(t, gen)
	s := startWaiting(t, o)

	got, err := o.Respond(context.Background(), s.ID, "He works at Acme Corp and banks in Zurich.")
	require.NoError(t, err)

	require.Equal(t, session.StatusWaitingForInput, got.Status)
	assert.Equal(t, []string{"Which bank does he use?"}, got.Questions)
	assert.Equal(t, "adaptation", got.History[len(got.History)-1].Type)
	assert.Len(t, got.Evidence, 2)

	prompts := gen.promptsFor(config.StageRetrieval)
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "RESPONSE CREDIBILITY: 0.80")
	assert.Contains(t, prompts[1], "NEW ANGLES IDENTIFIED: finances")
}

func TestEvidenceAndConfidenceNeverDecrease(t *testing.T) {
	for name, gen := range map[string]types.Generator{
		"model":    fullScript(),
		"degraded": nil,
	} {
		t.Run(name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, gen)
			s := startWaiting(t, o)

			prevEvidence, prevConfidence := len(s.Evidence), s.Confidence
			for i := 0; i < 6; i++ {
				got, err := o.Respond(context.Background(), s.ID, fmt.Sprintf("answer number %d", i))
				require.NoError(t, err)

				assert.GreaterOrEqual(t, len(got.Evidence), prevEvidence)
				assert.GreaterOrEqual(t, got.Confidence, prevConfidence)
				assert.LessOrEqual(t, got.Confidence, 1.0)
				prevEvidence, prevConfidence = len(got.Evidence), got.Confidence

				if got.Status == session.StatusCompleted {
					break
				}
				assert.NotEmpty(t, got.Questions)
				assert.LessOrEqual(t, len(got.Questions), stages.MaxQuestions)
			}
		})
	}
}

func TestRespondValidation(t *testing.T) {
	o, store := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)

	_, err := o.Respond(context.Background(), s.ID, "  ")
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	var nf *session.NotFoundError
	_, err = o.Respond(context.Background(), "missing", "answer")
	assert.ErrorAs(t, err, &nf)
	_, err = o.Respond(context.Background(), "missing", "  ")
	assert.ErrorAs(t, err, &nf, "an unknown session wins over a blank answer")

	_, err = store.Transition(context.Background(), s.ID, session.StatusInProgress)
	require.NoError(t, err)

	var ise *session.InvalidStateError
	_, err = o.Respond(context.Background(), s.ID, "answer")
	assert.ErrorAs(t, err, &ise)
	_, err = o.Report(context.Background(), s.ID)
	assert.ErrorAs(t, err, &ise)
}

func TestConcurrentRespondIsRejected(t *testing.T) {
	gen := fullScript()
	o, _ := newTestOrchestrator(t, gen)
	s := startWaiting(t, o)

	release := make(chan struct{})
	gen.mu.Lock()
	gen.block[config.StagePivot] = release
	gen.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := o.Respond(context.Background(), s.ID, "first")
		done <- err
	}()

	require.Eventually(t, func() bool {
		cur, err := o.Get(s.ID)
		return err == nil && cur.Status == session.StatusInProgress
	}, time.Second, 5*time.Millisecond)

	_, err := o.Respond(context.Background(), s.ID, "second")
	var ise *session.InvalidStateError
	assert.ErrorAs(t, err, &ise)

	close(release)
	require.NoError(t, <-done)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UserTurns())
}

func TestCancelledRespondReleasesSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Respond(ctx, s.ID, "answer")
	assert.ErrorIs(t, err, context.Canceled)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaitingForInput, got.Status)
	assert.Equal(t, 1, got.UserTurns())
}

func TestReportCompletesWaitingSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	_, err := o.Respond(context.Background(), s.ID, "He works at Acme.")
	require.NoError(t, err)

	first, err := o.Report(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, stages.ReportID(s.ID), first.ID)
	assert.Equal(t, "fallback", first.GenerationMethod)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	last := got.History[len(got.History)-1]
	assert.Equal(t, stages.SynthesisAgent, last.Agent)
	assert.Equal(t, "report", last.Type)
	assert.True(t, strings.HasPrefix(last.Text, "Comprehensive intelligence report generated with"))

	second, err := o.Report(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, first.EvidenceCount, second.EvidenceCount)
	assert.Equal(t, first.EntityCount, second.EntityCount)

	got, err = o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
}

func TestReportOnFailedSessionKeepsStatus(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := o.Start(ctx, "Who is John Smith?")
	require.Error(t, err)

	r, err := o.Report(context.Background(), s.ID)
	require.NoError(t, err)
	assert.NotNil(t, r)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)
}

func TestUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	var nf *session.NotFoundError

	_, err := o.Report(context.Background(), "nope")
	assert.ErrorAs(t, err, &nf)
	_, err = o.Summary("nope")
	assert.ErrorAs(t, err, &nf)
	_, err = o.Get("nope")
	assert.ErrorAs(t, err, &nf)
	_, err = o.Subscribe("nope")
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, o.Delete(context.Background(), "nope"), &nf)
}

func TestSummary(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullScript())
	s := startWaiting(t, o)
	_, err := o.Respond(context.Background(), s.ID, "He works at Acme Corp.")
	require.NoError(t, err)

	sum, err := o.Summary(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, sum.SessionID)
	assert.Equal(t, 1, sum.EntitiesIdentified)
	assert.Equal(t, 2, sum.EvidenceCollected)
	assert.Equal(t, 1, sum.ConversationTurns)
	assert.Equal(t, "complex", sum.Complexity)
	assert.Equal(t, session.PhaseImmediate, sum.CurrentPhase)
	assert.InDelta(t, 0.08, sum.ConfidenceScore, 1e-9)
}

func TestSubscribeReceivesCycleEvents(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	sub, err := o.Subscribe(s.ID)
	require.NoError(t, err)

	_, err = o.Respond(context.Background(), s.ID, "He works at Acme.")
	require.NoError(t, err)

	var got []events.Event
	for len(sub.Ch) > 0 {
		got = append(got, <-sub.Ch)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, events.TypeStatus, got[0].Type)
	assert.Equal(t, session.StatusInProgress, got[0].Status)

	var sawAnswer, sawQuestions bool
	for _, ev := range got {
		if ev.Type == events.TypeMessage && ev.Message.Agent == session.UserAgent {
			sawAnswer = true
		}
		if ev.Type == events.TypeQuestions {
			sawQuestions = true
		}
	}
	assert.True(t, sawAnswer)
	assert.True(t, sawQuestions)
	last := got[len(got)-1]
	assert.Equal(t, events.TypeStatus, last.Type)
	assert.Equal(t, session.StatusWaitingForInput, last.Status)

	require.NoError(t, o.Delete(context.Background(), s.ID))
	_, open := <-sub.Ch
	assert.False(t, open)
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	s := startWaiting(t, o)
	require.NoError(t, o.Close())

	sub, err := o.Subscribe(s.ID)
	require.NoError(t, err)
	select {
	case _, open := <-sub.Ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel left open after Close")
	}
}

type completionAudit struct {
	audit.Logger
	mu        sync.Mutex
	durations []time.Duration
}

func (c *completionAudit) LogSessionCompleted(_ context.Context, _ string, d time.Duration, _ int) error {
	c.mu.Lock()
	c.durations = append(c.durations, d)
	c.mu.Unlock()
	return nil
}

func TestCompletionDurationFromCreation(t *testing.T) {
	rec := &completionAudit{Logger: audit.NewNopLogger()}
	o, _ := newTestOrchestrator(t, nil, WithAuditLogger(rec))
	s := startWaiting(t, o)
	time.Sleep(20 * time.Millisecond)

	_, err := o.Report(context.Background(), s.ID)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.durations, 1)
	assert.GreaterOrEqual(t, rec.durations[0], 20*time.Millisecond)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) Close() error { return nil }

type recordingArchiver struct {
	mu      sync.Mutex
	reports []*stages.Report
}

func (r *recordingArchiver) ArchiveReport(_ context.Context, rep *stages.Report) error {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
	return nil
}

func TestSinkAndArchiverReceiveReport(t *testing.T) {
	sink := &recordingSink{}
	arch := &recordingArchiver{}
	o, _ := newTestOrchestrator(t, nil, WithSink(sink), WithReportArchiver(arch))
	s := startWaiting(t, o)

	_, err := o.Report(context.Background(), s.ID)
	require.NoError(t, err)

	require.Len(t, arch.reports, 1)
	assert.Equal(t, s.ID, arch.reports[0].SessionID)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, events.TypeReport, last.Type)
}

func TestMemoryTracksEvidence(t *testing.T) {
	mem := memory.NewManager()
	o, _ := newTestOrchestrator(t, fullScript(), WithMemory(mem))
	s := startWaiting(t, o)

	_, err := o.Respond(context.Background(), s.ID, "He works at Acme Corp.")
	require.NoError(t, err)

	st, ok := mem.Stats(s.ID)
	require.True(t, ok)
	assert.Equal(t, 2, st.Ingested)

	require.NoError(t, o.Delete(context.Background(), s.ID))
	_, ok = mem.Stats(s.ID)
	assert.False(t, ok)
}

func TestShouldContinue(t *testing.T) {
	evidence := func(n int) []session.Evidence { return make([]session.Evidence, n) }
	turns := func(n int) []session.Message {
		out := make([]session.Message, n)
		for i := range out {
			out[i].Agent = session.UserAgent
		}
		return out
	}
	tests := []struct {
		name string
		s    session.Session
		want bool
	}{
		{"little evidence", session.Session{Evidence: evidence(4), Confidence: 0.9}, true},
		{"low confidence", session.Session{Evidence: evidence(5), Confidence: 0.69}, true},
		{"many gaps", session.Session{Evidence: evidence(5), Confidence: 0.9, Gaps: []string{"a", "b", "c", "d"}}, true},
		{"all thresholds met", session.Session{Evidence: evidence(5), Confidence: 0.7, Gaps: []string{"a", "b", "c"}}, false},
		{"turn ceiling", session.Session{History: turns(20)}, false},
		{"nineteen turns", session.Session{History: turns(19)}, true},
		{"exploitation on track", session.Session{Planning: session.PlanningState{Phase: session.PhaseExploitation, PhaseStatus: session.PhaseOnTrack}}, false},
		{"exploitation needs adjustment", session.Session{Planning: session.PlanningState{Phase: session.PhaseExploitation, PhaseStatus: session.PhaseNeedsAdjustment}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldContinue(&tt.s))
		})
	}
}

func TestPruneIdleAndRun(t *testing.T) {
	mem := memory.NewManager()
	o, _ := newTestOrchestrator(t, nil, WithMemory(mem), WithConfig(Config{
		MemoryCleanupInterval: 5 * time.Millisecond,
		MemoryMaxAge:          time.Hour,
		SessionMaxIdle:        time.Millisecond,
	}))
	s := startWaiting(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := o.Get(s.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond)
	_, ok := mem.Stats(s.ID)
	assert.False(t, ok)

	cancel()
	<-done
}
