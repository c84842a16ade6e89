// Package stages implements the five pipeline stages of an investigation:
// query analysis, planning, retrieval, pivot analysis and synthesis.
//
// Every stage asks the model for a JSON document, decodes it best-effort and
// applies it to the session. A provider failure or undecodable output routes
// to the stage's deterministic fallback, so a stage only returns an error
// when its context is already done.
package stages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
	"github.com/kubilitics/kubilitics-intel/internal/metrics"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// Agent names recorded on conversation messages.
const (
	QueryAnalysisAgent = "Query Analysis Agent"
	PlanningAgent      = "Planning & Orchestration Agent"
	RetrievalAgent     = "Retrieval Agent"
	PivotAgent         = "Pivot Agent"
	SynthesisAgent     = "Synthesis & Reporting Agent"
)

// Stage is implemented by every pipeline stage.
type Stage interface {
	// Name is the stage key used for per-stage models and metrics.
	Name() string
}

// Processor is a stage that works on the session alone.
// QueryAnalysis, Planning (plan creation) and Retrieval implement it.
type Processor interface {
	Stage
	Process(ctx context.Context, s *session.Session) error
}

// Deps carries what every stage needs.
type Deps struct {
	LLM      types.Generator
	Logger   *zap.Logger
	AuditLog audit.Logger
}

type base struct {
	name   string
	agent  string
	system string
	llm    types.Generator
	logger *zap.Logger
	audit  audit.Logger
}

func newBase(name, agent, system string, d Deps) base {
	b := base{name: name, agent: agent, system: system, llm: d.LLM, logger: d.Logger, audit: d.AuditLog}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.audit == nil {
		b.audit = audit.NewNopLogger()
	}
	b.logger = b.logger.With(zap.String("stage", name))
	return b
}

func (b *base) Name() string { return b.name }

// generate calls the model with the stage's system instruction.
func (b *base) generate(ctx context.Context, prompt string) (string, error) {
	if b.llm == nil {
		return "", &types.ProviderError{Provider: "none", Err: errNoGenerator}
	}
	start := time.Now()
	out, err := b.llm.Generate(ctx, prompt, b.system, types.Options{Stage: b.name})
	metrics.StageDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	return out, err
}

// fellBack records that the stage took its deterministic path.
func (b *base) fellBack(ctx context.Context, s *session.Session, cause error) {
	b.logger.Warn("stage fallback",
		zap.String("session_id", s.ID),
		zap.Error(cause))
	metrics.StageFallbacks.WithLabelValues(b.name).Inc()
	_ = b.audit.LogStageFallback(ctx, s.ID, b.name, cause)
}

func (b *base) message(text, msgType string, requiresResponse bool, meta map[string]interface{}) session.Message {
	return session.Message{
		Agent:            b.agent,
		Text:             text,
		Timestamp:        time.Now(),
		Type:             msgType,
		RequiresResponse: requiresResponse,
		Metadata:         meta,
	}
}

func setExtension(s *session.Session, key string, value interface{}) {
	if s.Extensions == nil {
		s.Extensions = map[string]interface{}{}
	}
	s.Extensions[key] = value
}
