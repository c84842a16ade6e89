package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// Planning creates the strategic plan and revises it after every answer.
type Planning struct {
	base
}

// NewPlanning creates the planning stage.
func NewPlanning(d Deps) *Planning {
	return &Planning{base: newBase(config.StagePlanning, PlanningAgent, planningSystemPrompt, d)}
}

type phaseItem struct {
	Objectives        strList `json:"objectives"`
	CollectionMethods strList `json:"collection_methods"`
	SuccessIndicators strList `json:"success_indicators"`
}

type planResponse struct {
	Mission struct {
		PrimaryObjectives    strList `json:"primary_objectives"`
		SuccessCriteria      strList `json:"success_criteria"`
		CriticalRequirements strList `json:"critical_information_requirements"`
	} `json:"mission_analysis"`
	Collection struct {
		Immediate    *phaseItem `json:"phase_1_immediate"`
		Development  *phaseItem `json:"phase_2_development"`
		Exploitation *phaseItem `json:"phase_3_exploitation"`
	} `json:"collection_strategy"`
	Interview struct {
		Approach            string  `json:"questioning_approach"`
		QuestionSequencing  strList `json:"question_sequencing"`
		RapportBuilding     strList `json:"rapport_building"`
		VerificationMethods strList `json:"verification_methods"`
		SensitiveTopics     strList `json:"sensitive_topics"`
	} `json:"interview_strategy"`
	Coordination struct {
		RetrievalTasks       strList `json:"retrieval_agent_tasks"`
		PivotTriggers        strList `json:"pivot_agent_triggers"`
		SynthesisCheckpoints strList `json:"synthesis_checkpoints"`
	} `json:"coordination_plan"`
	Risk struct {
		OperationalRisks strList `json:"operational_risks"`
		Contingency      strList `json:"contingency_plans"`
	} `json:"risk_management"`
	Resources struct {
		TimeEstimates map[string]interface{} `json:"time_estimates"`
	} `json:"resource_allocation"`
}

type strategyResponse struct {
	Assessment struct {
		PhaseStatus string `json:"current_phase_status"`
		Completion  struct {
			Completed  strList `json:"completed"`
			InProgress strList `json:"in_progress"`
			Blocked    strList `json:"blocked"`
		} `json:"objective_completion"`
		NewOpportunities strList `json:"new_opportunities"`
	} `json:"strategy_assessment"`
	Tactical struct {
		QuestioningModifications strList `json:"questioning_modifications"`
		FocusShifts              strList `json:"focus_shifts"`
		NewCollectionTargets     strList `json:"new_collection_targets"`
		PivotRecommendations     strList `json:"pivot_recommendations"`
	} `json:"tactical_adjustments"`
	NextPhase struct {
		Readiness string `json:"readiness_assessment"`
	} `json:"next_phase_preparation"`
}

// Process creates the strategic plan. It is the Processor form of CreatePlan.
func (p *Planning) Process(ctx context.Context, s *session.Session) error {
	return p.CreatePlan(ctx, s)
}

// CreatePlan writes the plan into s.Planning and replaces s.Gaps with the
// plan's critical information requirements.
func (p *Planning) CreatePlan(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := p.generate(ctx, fmt.Sprintf(createPlanPrompt, planningContext(s)))
	if err == nil {
		var resp planResponse
		if err = decodeJSON(p.name, raw, &resp); err == nil {
			if len(resp.Mission.PrimaryObjectives) > 0 || (resp.Collection.Immediate != nil && len(resp.Collection.Immediate.Objectives) > 0) {
				p.applyPlan(s, resp)
				return nil
			}
			err = &ParseError{Stage: p.name, Raw: truncate(raw, 200), Err: fmt.Errorf("plan has no objectives")}
		}
	}

	p.fellBack(ctx, s, err)
	p.fallbackPlan(s)
	return nil
}

func (p *Planning) applyPlan(s *session.Session, resp planResponse) {
	plan := &session.StrategicPlan{
		Phases:       map[session.Phase]*session.PhasePlan{},
		Requirements: []string(resp.Mission.CriticalRequirements),
	}
	plan.RiskNotes = append(plan.RiskNotes, resp.Risk.OperationalRisks...)
	plan.RiskNotes = append(plan.RiskNotes, resp.Risk.Contingency...)
	if len(resp.Mission.PrimaryObjectives) > 0 {
		plan.PrimaryObjective = resp.Mission.PrimaryObjectives[0]
	} else {
		plan.PrimaryObjective = "Gather intelligence on " + entitySummary(s)
	}

	phases := []struct {
		phase session.Phase
		item  *phaseItem
		key   string
	}{
		{session.PhaseImmediate, resp.Collection.Immediate, "phase_1"},
		{session.PhaseDevelopment, resp.Collection.Development, "phase_2"},
		{session.PhaseExploitation, resp.Collection.Exploitation, "phase_3"},
	}
	for _, ph := range phases {
		if ph.item == nil {
			continue
		}
		pp := &session.PhasePlan{
			Objectives:      []string(ph.item.Objectives),
			Approach:        strings.Join(ph.item.CollectionMethods, ", "),
			SuccessCriteria: []string(ph.item.SuccessIndicators),
		}
		if d, ok := resp.Resources.TimeEstimates[ph.key]; ok && d != nil {
			pp.Duration = fmt.Sprint(d)
		}
		plan.Phases[ph.phase] = pp
	}

	st := &s.Planning
	st.Plan = plan
	st.Phase = session.PhaseImmediate
	st.PhaseStatus = session.PhaseOnTrack
	st.PrimaryObjectives = []string(resp.Mission.PrimaryObjectives)
	st.CurrentObjectives = nil
	if im := plan.Phases[session.PhaseImmediate]; im != nil {
		st.CurrentObjectives = append([]string(nil), im.Objectives...)
	}
	st.InterviewStrategy = &session.InterviewStrategy{
		Approach:            orDefault(resp.Interview.Approach, "adaptive"),
		QuestionSequencing:  []string(resp.Interview.QuestionSequencing),
		RapportTechniques:   []string(resp.Interview.RapportBuilding),
		VerificationMethods: []string(resp.Interview.VerificationMethods),
		SensitiveTopics:     []string(resp.Interview.SensitiveTopics),
	}
	st.CoordinationPlan = &session.CoordinationPlan{
		RetrievalFocus:      []string(resp.Coordination.RetrievalTasks),
		PivotTriggers:       []string(resp.Coordination.PivotTriggers),
		SynthesisMilestones: []string(resp.Coordination.SynthesisCheckpoints),
	}
	if len(resp.Mission.CriticalRequirements) > 0 {
		s.Gaps = append([]string{}, resp.Mission.CriticalRequirements...)
	}

	var summary []string
	if n := len(st.PrimaryObjectives); n > 0 {
		summary = append(summary, fmt.Sprintf("%d primary objectives", n))
	}
	if n := len(plan.Phases); n > 0 {
		summary = append(summary, fmt.Sprintf("%d phases planned", n))
	}
	summary = append(summary,
		fmt.Sprintf("%s questioning approach", st.InterviewStrategy.Approach),
		fmt.Sprintf("starting with %s phase", st.Phase))

	s.AddMessage(p.message(
		"Strategic investigation plan developed: "+strings.Join(summary, ", "),
		"planning", false,
		map[string]interface{}{
			"phases_planned":   len(plan.Phases),
			"objectives_count": len(st.PrimaryObjectives),
			"current_phase":    string(st.Phase),
		}))
	p.logger.Info("strategic plan created",
		zap.String("session_id", s.ID),
		zap.Int("objectives", len(st.PrimaryObjectives)))
}

func (p *Planning) fallbackPlan(s *session.Session) {
	focus := entitySummary(s)
	objective := "Gather intelligence on " + focus
	requirements := append([]string{}, s.Gaps...)
	if len(requirements) == 0 {
		requirements = []string{"Basic entity information"}
	}
	phaseOne := []string{"Establish baseline information", "Identify key relationships"}

	st := &s.Planning
	st.Plan = &session.StrategicPlan{
		PrimaryObjective: objective,
		Phases: map[session.Phase]*session.PhasePlan{
			session.PhaseImmediate: {
				Objectives: phaseOne,
				Approach:   "interview, direct_questioning",
			},
		},
		Requirements: requirements,
	}
	st.Phase = session.PhaseImmediate
	st.PhaseStatus = session.PhaseOnTrack
	st.PrimaryObjectives = []string{objective}
	st.CurrentObjectives = append([]string(nil), phaseOne...)
	st.InterviewStrategy = &session.InterviewStrategy{Approach: "direct"}

	s.AddMessage(p.message(
		fmt.Sprintf("Basic strategic plan created focusing on %s. Using direct questioning approach.", focus),
		"planning", false,
		map[string]interface{}{"fallback_used": true, "plan_focus": focus}))
}

// UpdateStrategy re-assesses the plan after an answer. On any failure the
// session is left as it was.
func (p *Planning) UpdateStrategy(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := p.generate(ctx, fmt.Sprintf(updateStrategyPrompt, strategyContext(s)))
	if err == nil {
		var resp strategyResponse
		if err = decodeJSON(p.name, raw, &resp); err == nil {
			p.applyUpdate(s, resp)
			return nil
		}
	}

	p.logger.Error("strategy update failed",
		zap.String("session_id", s.ID),
		zap.Error(err))
	p.fellBack(ctx, s, err)
	return nil
}

func (p *Planning) applyUpdate(s *session.Session, resp strategyResponse) {
	st := &s.Planning

	status, known := session.ParsePhaseStatus(resp.Assessment.PhaseStatus)
	if !known && resp.Assessment.PhaseStatus != "" {
		p.logger.Warn("unknown phase status, using on_track",
			zap.String("session_id", s.ID), zap.String("phase_status", resp.Assessment.PhaseStatus))
	}
	st.PhaseStatus = status
	st.CompletedObjectives = []string(resp.Assessment.Completion.Completed)
	st.BlockedObjectives = []string(resp.Assessment.Completion.Blocked)
	s.AddGaps(resp.Assessment.NewOpportunities...)

	t := resp.Tactical
	var adjustments []string
	adjustments = append(adjustments, t.QuestioningModifications...)
	adjustments = append(adjustments, t.NewCollectionTargets...)
	adjustments = append(adjustments, t.PivotRecommendations...)
	st.TacticalAdjustments = adjustments
	s.SetFocus(t.FocusShifts)

	st.NextPhaseReadiness = parseReadiness(resp.NextPhase.Readiness)
	if st.NextPhaseReadiness == session.ReadinessReady {
		p.advancePhase(s)
	}

	summary := []string{fmt.Sprintf("Phase status: %s", st.PhaseStatus)}
	if n := len(resp.Assessment.NewOpportunities); n > 0 {
		summary = append(summary, fmt.Sprintf("%d new opportunities identified", n))
	}
	if len(adjustments) > 0 || len(t.FocusShifts) > 0 {
		summary = append(summary, "Tactical adjustments applied")
	}

	s.AddMessage(p.message(
		"Strategy updated: "+strings.Join(summary, ", "),
		"strategy_update", false,
		map[string]interface{}{
			"phase_status":         string(st.PhaseStatus),
			"current_phase":        string(st.Phase),
			"new_opportunities":    len(resp.Assessment.NewOpportunities),
			"tactical_adjustments": len(adjustments),
			"readiness":            string(st.NextPhaseReadiness),
		}))
}

func (p *Planning) advancePhase(s *session.Session) {
	st := &s.Planning
	from := st.Phase
	st.Phase = from.Next()
	if st.Plan != nil {
		if pp := st.Plan.Phases[st.Phase]; pp != nil {
			st.CurrentObjectives = append([]string(nil), pp.Objectives...)
		}
	}
	p.logger.Info("advanced investigation phase",
		zap.String("session_id", s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(st.Phase)))
}

// parseReadiness also accepts the planner's verbose values.
func parseReadiness(v string) session.Readiness {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "needs_more_intel":
		return session.ReadinessPartial
	case "major_gaps":
		return session.ReadinessNotReady
	}
	r, _ := session.ParseReadiness(v)
	return r
}

func entitySummary(s *session.Session) string {
	names := s.EntityNames()
	if len(names) == 0 {
		return "the requested targets"
	}
	return strings.Join(names, ", ")
}

func planningContext(s *session.Session) string {
	var parts []string
	parts = append(parts, "ORIGINAL QUERY: "+s.Query)
	if s.Analysis.Complexity != "" {
		parts = append(parts,
			"COMPLEXITY: "+s.Analysis.Complexity,
			"SENSITIVITY: "+orDefault(s.Analysis.Sensitivity, "medium"))
	}
	if len(s.Entities) > 0 {
		var info []string
		for _, e := range s.Entities {
			info = append(info, fmt.Sprintf("%s (%s) [Priority: %s]", e.Name, e.Type, e.Priority))
		}
		parts = append(parts, "TARGET ENTITIES: "+strings.Join(info, ", "))
	}
	if len(s.Analysis.InformationCategories) > 0 {
		parts = append(parts, "INFORMATION CATEGORIES: "+strings.Join(s.Analysis.InformationCategories, ", "))
	}
	if len(s.Analysis.CollectionStrategy) > 0 {
		parts = append(parts, "RECOMMENDED APPROACHES: "+strings.Join(s.Analysis.CollectionStrategy, ", "))
	}
	if len(s.Gaps) > 0 {
		parts = append(parts, "INFORMATION GAPS: "+strings.Join(firstN(s.Gaps, 5), ", "))
	}
	return strings.Join(parts, "\n")
}

func strategyContext(s *session.Session) string {
	st := s.Planning
	parts := []string{"CURRENT PHASE: " + string(st.Phase)}
	if len(st.CurrentObjectives) > 0 {
		parts = append(parts, "CURRENT OBJECTIVES: "+strings.Join(st.CurrentObjectives, ", "))
	}
	if n := len(s.Evidence); n > 0 {
		parts = append(parts, fmt.Sprintf("EVIDENCE COLLECTED: %d items", n))
		var recent []string
		for _, e := range s.Evidence[max(0, n-3):] {
			recent = append(recent, truncate(e.Content, 50))
		}
		parts = append(parts, "RECENT EVIDENCE: "+strings.Join(recent, "; "))
	}
	if len(s.Focus) > 0 {
		parts = append(parts, "CURRENT FOCUS: "+strings.Join(s.Focus, ", "))
	}
	parts = append(parts, "PHASE STATUS: "+string(st.PhaseStatus))
	parts = append(parts, fmt.Sprintf("CONFIDENCE: %.2f", s.Confidence))
	return strings.Join(parts, "\n")
}
