package session

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an investigation session.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusWaitingForInput Status = "WAITING_FOR_INPUT"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// UserAgent is the agent name reserved for the human being interviewed.
const UserAgent = "User"

// EntityType classifies a subject of interest.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityEvent        EntityType = "event"
	EntityRelationship EntityType = "relationship"
)

// Priority ranks entities and questions.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for sorting; lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

// EvidenceType classifies a piece of collected intelligence.
type EvidenceType string

const (
	EvidenceTestimony    EvidenceType = "testimony"
	EvidenceDocument     EvidenceType = "document"
	EvidenceIntelligence EvidenceType = "intelligence"
	EvidenceObservation  EvidenceType = "observation"
	EvidenceAnalysis     EvidenceType = "analysis"
	EvidenceVerification EvidenceType = "verification"
)

// Phase is a step of the fixed investigation progression.
type Phase string

const (
	PhaseImmediate    Phase = "immediate"
	PhaseDevelopment  Phase = "development"
	PhaseExploitation Phase = "exploitation"
	PhaseSynthesis    Phase = "synthesis"
)

var phaseOrder = []Phase{PhaseImmediate, PhaseDevelopment, PhaseExploitation, PhaseSynthesis}

// Next returns the phase that follows p. Synthesis is terminal and returns itself.
func (p Phase) Next() Phase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	if p == "" {
		return PhaseDevelopment
	}
	return p
}

// Index returns the 1-based position of p in the progression, or 0 if unknown.
func (p Phase) Index() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i + 1
		}
	}
	return 0
}

// PhaseStatus is the planner's assessment of the current phase.
type PhaseStatus string

const (
	PhaseOnTrack         PhaseStatus = "on_track"
	PhaseNeedsAdjustment PhaseStatus = "needs_adjustment"
	PhasePivotRequired   PhaseStatus = "pivot_required"
)

// Readiness signals whether the next phase can start.
type Readiness string

const (
	ReadinessReady    Readiness = "ready"
	ReadinessNotReady Readiness = "not_ready"
	ReadinessPartial  Readiness = "partial"
)

// Entity is a named subject of interest.
type Entity struct {
	Name       string                 `json:"name"`
	Type       EntityType             `json:"type"`
	Priority   Priority               `json:"priority"`
	Confidence float64                `json:"confidence_score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Evidence is an atomic piece of collected intelligence.
type Evidence struct {
	Content    string                 `json:"content"`
	Source     string                 `json:"source"`
	Type       EvidenceType           `json:"evidence_type"`
	Confidence float64                `json:"confidence_score"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Message is one entry of the conversation audit log.
type Message struct {
	Agent            string                 `json:"agent_name"`
	Text             string                 `json:"message"`
	Timestamp        time.Time              `json:"timestamp"`
	Type             string                 `json:"message_type"`
	RequiresResponse bool                   `json:"requires_response"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// PhasePlan describes one phase of a strategic plan.
type PhasePlan struct {
	Objectives      []string `json:"objectives"`
	Approach        string   `json:"approach,omitempty"`
	SuccessCriteria []string `json:"success_criteria,omitempty"`
	Duration        string   `json:"estimated_duration,omitempty"`
}

// StrategicPlan is the multi-phase plan produced by the planning stage.
type StrategicPlan struct {
	PrimaryObjective string               `json:"primary_objective"`
	Phases           map[Phase]*PhasePlan `json:"phases"`
	Requirements     []string             `json:"critical_information_requirements"`
	RiskNotes        []string             `json:"risk_notes,omitempty"`
}

// InterviewStrategy captures how questions should be asked.
type InterviewStrategy struct {
	Approach            string   `json:"approach"`
	QuestionSequencing  []string `json:"question_sequencing,omitempty"`
	RapportTechniques   []string `json:"rapport_techniques,omitempty"`
	VerificationMethods []string `json:"verification_methods,omitempty"`
	SensitiveTopics     []string `json:"sensitive_topics,omitempty"`
}

// CoordinationPlan captures how stages should hand off work.
type CoordinationPlan struct {
	RetrievalFocus      []string `json:"retrieval_agent_focus,omitempty"`
	PivotTriggers       []string `json:"pivot_agent_triggers,omitempty"`
	SynthesisMilestones []string `json:"synthesis_milestones,omitempty"`
}

// PlanningState is the typed inter-stage planning record.
type PlanningState struct {
	Phase               Phase              `json:"current_phase"`
	PhaseStatus         PhaseStatus        `json:"phase_status"`
	Plan                *StrategicPlan     `json:"strategic_plan,omitempty"`
	CurrentObjectives   []string           `json:"current_objectives,omitempty"`
	PrimaryObjectives   []string           `json:"primary_objectives,omitempty"`
	CompletedObjectives []string           `json:"completed_objectives,omitempty"`
	BlockedObjectives   []string           `json:"blocked_objectives,omitempty"`
	InterviewStrategy   *InterviewStrategy `json:"interview_strategy,omitempty"`
	CoordinationPlan    *CoordinationPlan  `json:"coordination_plan,omitempty"`
	TacticalAdjustments []string           `json:"tactical_adjustments,omitempty"`
	NextPhaseReadiness  Readiness          `json:"next_phase_readiness,omitempty"`
}

// AnalysisProfile is the query-level assessment written by query analysis.
type AnalysisProfile struct {
	Complexity            string   `json:"complexity"`
	Sensitivity           string   `json:"sensitivity"`
	InvestigationType     string   `json:"investigation_type"`
	InformationCategories []string `json:"information_categories,omitempty"`
	CollectionStrategy    []string `json:"collection_strategy,omitempty"`
	ExtractionMethod      string   `json:"extraction_method,omitempty"`
}

// Session is the mutable record threaded through every stage.
type Session struct {
	ID         string                 `json:"session_id"`
	Query      string                 `json:"query"`
	Status     Status                 `json:"status"`
	Entities   []Entity               `json:"target_entities"`
	Evidence   []Evidence             `json:"evidence_pool"`
	History    []Message              `json:"conversation_history"`
	Questions  []string               `json:"current_questions"`
	Gaps       []string               `json:"information_gaps"`
	Focus      []string               `json:"investigation_focus"`
	Confidence float64                `json:"confidence_score"`
	Planning   PlanningState          `json:"planning"`
	Analysis   AnalysisProfile        `json:"analysis"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// New returns a PENDING session for query.
func New(id, query string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Query:      query,
		Status:     StatusPending,
		Entities:   []Entity{},
		Evidence:   []Evidence{},
		History:    []Message{},
		Questions:  []string{},
		Gaps:       []string{},
		Focus:      []string{},
		Planning:   PlanningState{Phase: PhaseImmediate, PhaseStatus: PhaseOnTrack},
		Extensions: map[string]interface{}{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// UserTurns counts the messages authored by the interviewed user.
func (s *Session) UserTurns() int {
	n := 0
	for _, m := range s.History {
		if m.Agent == UserAgent {
			n++
		}
	}
	return n
}

// AddMessage appends to the conversation log, stamping the time if unset.
func (s *Session) AddMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.History = append(s.History, m)
}

// AppendEvidence is the only way evidence enters the pool.
func (s *Session) AppendEvidence(items ...Evidence) {
	for _, e := range items {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		e.Confidence = clamp01(e.Confidence)
		s.Evidence = append(s.Evidence, e)
	}
}

// RaiseConfidence adds delta to the confidence score, clamped to [0,1].
// Negative deltas are ignored.
func (s *Session) RaiseConfidence(delta float64) {
	if delta <= 0 {
		return
	}
	s.Confidence = clamp01(s.Confidence + delta)
}

// AddGaps appends information gaps. Duplicates are kept.
func (s *Session) AddGaps(gaps ...string) {
	for _, g := range gaps {
		if g = strings.TrimSpace(g); g != "" {
			s.Gaps = append(s.Gaps, g)
		}
	}
}

// SetFocus replaces the investigation focus with at most three angles.
// An empty input leaves the focus unchanged.
func (s *Session) SetFocus(angles []string) {
	var out []string
	for _, a := range angles {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
		if len(out) == 3 {
			break
		}
	}
	if len(out) > 0 {
		s.Focus = out
	}
}

// PrimaryEntity returns the first entity, if any.
func (s *Session) PrimaryEntity() (Entity, bool) {
	if len(s.Entities) == 0 {
		return Entity{}, false
	}
	return s.Entities[0], true
}

// EntityNames lists entity names in order.
func (s *Session) EntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		names = append(names, e.Name)
	}
	return names
}

// LastMessage returns the most recent message written by agent with the given type.
func (s *Session) LastMessage(agent, msgType string) (Message, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		m := s.History[i]
		if m.Agent == agent && (msgType == "" || m.Type == msgType) {
			return m, true
		}
	}
	return Message{}, false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Entities = make([]Entity, len(s.Entities))
	for i, e := range s.Entities {
		e.Metadata = copyMap(e.Metadata)
		c.Entities[i] = e
	}
	c.Evidence = make([]Evidence, len(s.Evidence))
	for i, e := range s.Evidence {
		e.Metadata = copyMap(e.Metadata)
		c.Evidence[i] = e
	}
	c.History = make([]Message, len(s.History))
	for i, m := range s.History {
		m.Metadata = copyMap(m.Metadata)
		c.History[i] = m
	}
	c.Questions = append([]string{}, s.Questions...)
	c.Gaps = append([]string{}, s.Gaps...)
	c.Focus = append([]string{}, s.Focus...)
	c.Analysis.InformationCategories = append([]string(nil), s.Analysis.InformationCategories...)
	c.Analysis.CollectionStrategy = append([]string(nil), s.Analysis.CollectionStrategy...)
	c.Planning = s.Planning.clone()
	c.Extensions = copyMap(s.Extensions)
	if c.Extensions == nil {
		c.Extensions = map[string]interface{}{}
	}
	return &c
}

func (p PlanningState) clone() PlanningState {
	c := p
	c.CurrentObjectives = append([]string(nil), p.CurrentObjectives...)
	c.PrimaryObjectives = append([]string(nil), p.PrimaryObjectives...)
	c.CompletedObjectives = append([]string(nil), p.CompletedObjectives...)
	c.BlockedObjectives = append([]string(nil), p.BlockedObjectives...)
	c.TacticalAdjustments = append([]string(nil), p.TacticalAdjustments...)
	if p.Plan != nil {
		plan := *p.Plan
		plan.Requirements = append([]string(nil), p.Plan.Requirements...)
		plan.RiskNotes = append([]string(nil), p.Plan.RiskNotes...)
		plan.Phases = make(map[Phase]*PhasePlan, len(p.Plan.Phases))
		for k, v := range p.Plan.Phases {
			if v == nil {
				continue
			}
			pp := *v
			pp.Objectives = append([]string(nil), v.Objectives...)
			pp.SuccessCriteria = append([]string(nil), v.SuccessCriteria...)
			plan.Phases[k] = &pp
		}
		c.Plan = &plan
	}
	if p.InterviewStrategy != nil {
		is := *p.InterviewStrategy
		c.InterviewStrategy = &is
	}
	if p.CoordinationPlan != nil {
		cp := *p.CoordinationPlan
		c.CoordinationPlan = &cp
	}
	return c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
