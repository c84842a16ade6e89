package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// MaxQuestions caps every question set.
const MaxQuestions = 4

// Retrieval formulates the questions put to the user.
type Retrieval struct {
	base
}

// NewRetrieval creates the retrieval stage.
func NewRetrieval(d Deps) *Retrieval {
	return &Retrieval{base: newBase(config.StageRetrieval, RetrievalAgent, retrievalSystemPrompt, d)}
}

// PivotAnalysis seeds question adaptation with the latest answer analysis.
type PivotAnalysis struct {
	Credibility        float64  `json:"credibility_score"`
	InformationDensity string   `json:"information_density,omitempty"`
	NewAngles          []string `json:"new_investigation_angles"`
	NewGaps            []string `json:"information_gaps_identified"`
	NextFocus          []string `json:"next_focus_areas"`
}

type questionItem struct {
	Text     string `json:"question_text"`
	Type     string `json:"question_type"`
	Purpose  string `json:"strategic_purpose"`
	Priority string `json:"priority"`
}

type questionResponse struct {
	Strategy struct {
		PrimaryApproach     string `json:"primary_approach"`
		QuestioningPhase    string `json:"questioning_phase"`
		InformationPriority string `json:"information_priority"`
	} `json:"question_strategy"`
	Questions []questionItem `json:"questions"`
	Sequence  struct {
		Opening      strList `json:"opening_questions"`
		Core         strList `json:"core_questions"`
		Verification strList `json:"verification_questions"`
	} `json:"questioning_sequence"`
	Tactical struct {
		SensitivityFactors strList `json:"sensitivity_factors"`
		PivotOpportunities strList `json:"pivot_opportunities"`
	} `json:"tactical_considerations"`
}

type adaptationResponse struct {
	Strategy struct {
		PivotResponse string  `json:"pivot_response"`
		NewPriorities strList `json:"new_priorities"`
	} `json:"adaptation_strategy"`
	Questions []questionItem `json:"adapted_questions"`
	FollowUp  struct {
		Immediate strList `json:"immediate_follow_ups"`
	} `json:"follow_up_strategy"`
}

// Process replaces s.Questions with a fresh prioritized set.
func (r *Retrieval) Process(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := r.generate(ctx, fmt.Sprintf(questionsPrompt, retrievalContext(s)))
	if err == nil {
		var resp questionResponse
		if err = decodeJSON(r.name, raw, &resp); err == nil {
			if questions := prioritizeQuestions(resp); len(questions) > 0 {
				r.applyQuestions(s, resp, questions)
				return nil
			}
			err = &ParseError{Stage: r.name, Raw: truncate(raw, 200), Err: fmt.Errorf("no questions in response")}
		}
	}

	r.fellBack(ctx, s, err)
	r.fallback(s)
	return nil
}

// prioritizeQuestions orders structured items by priority rank, or walks
// the opening, core and verification sequences when there are none.
func prioritizeQuestions(resp questionResponse) []string {
	items := make([]questionItem, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		if strings.TrimSpace(q.Text) != "" {
			items = append(items, q)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		pi, _ := session.ParsePriority(items[i].Priority)
		pj, _ := session.ParsePriority(items[j].Priority)
		return pi.Rank() < pj.Rank()
	})

	var questions []string
	for _, q := range items {
		questions = append(questions, strings.TrimSpace(q.Text))
		if len(questions) == MaxQuestions {
			return questions
		}
	}
	if len(questions) > 0 {
		return questions
	}

	for _, seq := range [][]string{resp.Sequence.Opening, resp.Sequence.Core, resp.Sequence.Verification} {
		questions = append(questions, firstN(seq, 2)...)
		if len(questions) >= MaxQuestions {
			break
		}
	}
	return firstN(questions, MaxQuestions)
}

func (r *Retrieval) applyQuestions(s *session.Session, resp questionResponse, questions []string) {
	s.Questions = questions
	st := resp.Strategy
	setExtension(s, "questioning_strategy", map[string]string{
		"primary_approach":     orDefault(st.PrimaryApproach, "adaptive"),
		"questioning_phase":    orDefault(st.QuestioningPhase, "development"),
		"information_priority": orDefault(st.InformationPriority, "medium"),
	})
	if len(resp.Tactical.SensitivityFactors) > 0 {
		setExtension(s, "sensitivity_factors", []string(resp.Tactical.SensitivityFactors))
	}

	s.AddMessage(r.message(
		formatQuestions(questions, orDefault(st.QuestioningPhase, "development")),
		"question", true,
		map[string]interface{}{
			"question_count":       len(questions),
			"questioning_approach": orDefault(st.PrimaryApproach, "adaptive"),
			"priority_level":       orDefault(st.InformationPriority, "medium"),
			"phase":                orDefault(st.QuestioningPhase, "development"),
		}))
	r.logger.Info("questions formulated",
		zap.String("session_id", s.ID),
		zap.Int("count", len(questions)))
}

// AdaptFromPivot replaces s.Questions with a set seeded by the latest
// pivot analysis instead of the full plan context.
func (r *Retrieval) AdaptFromPivot(ctx context.Context, s *session.Session, pa PivotAnalysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := r.generate(ctx, fmt.Sprintf(adaptQuestionsPrompt, pivotContext(pa)))
	if err == nil {
		var resp adaptationResponse
		if err = decodeJSON(r.name, raw, &resp); err == nil {
			if questions := adaptedQuestions(resp); len(questions) > 0 {
				r.applyAdaptation(s, resp, questions)
				return nil
			}
			err = &ParseError{Stage: r.name, Raw: truncate(raw, 200), Err: fmt.Errorf("no adapted questions in response")}
		}
	}

	r.fellBack(ctx, s, err)
	r.fallback(s)
	return nil
}

func adaptedQuestions(resp adaptationResponse) []string {
	var questions []string
	for _, q := range resp.Questions {
		if t := strings.TrimSpace(q.Text); t != "" {
			questions = append(questions, t)
		}
	}
	questions = append(questions, firstN(resp.FollowUp.Immediate, 2)...)
	return firstN(questions, MaxQuestions)
}

func (r *Retrieval) applyAdaptation(s *session.Session, resp adaptationResponse, questions []string) {
	s.Questions = questions
	pivotResponse := orDefault(resp.Strategy.PivotResponse, "expand")

	summary := []string{"Strategy: " + pivotResponse}
	if n := len(resp.Questions); n > 0 {
		summary = append(summary, fmt.Sprintf("%d questions adapted", n))
	}
	if len(resp.Strategy.NewPriorities) > 0 {
		summary = append(summary, "New priorities: "+strings.Join(firstN(resp.Strategy.NewPriorities, 2), ", "))
	}

	s.AddMessage(r.message(
		"Questions adapted based on pivot analysis: "+strings.Join(summary, ", ")+"\n\n"+numbered(questions),
		"adaptation", true,
		map[string]interface{}{
			"adaptation_type":     pivotResponse,
			"new_questions_count": len(questions),
			"pivot_triggered":     true,
		}))
}

// FallbackQuestions builds templated questions from the primary entity and
// the first two gaps. The result is never empty.
func FallbackQuestions(s *session.Session) []string {
	var questions []string
	if e, ok := s.PrimaryEntity(); ok {
		questions = append(questions,
			fmt.Sprintf("Could you tell me more about %s? What's your relationship or connection to them?", e.Name))
		switch e.Type {
		case session.EntityPerson:
			questions = append(questions,
				fmt.Sprintf("What can you tell me about %s's current activities or situation?", e.Name),
				fmt.Sprintf("Are there other people or organizations that %s is closely associated with?", e.Name))
		case session.EntityOrganization:
			questions = append(questions,
				fmt.Sprintf("What do you know about %s's operations or business activities?", e.Name),
				fmt.Sprintf("Who are the key people involved with %s?", e.Name))
		}
	}
	for _, gap := range firstN(s.Gaps, 2) {
		questions = append(questions, fmt.Sprintf("Regarding %s, what information can you share?", strings.ToLower(gap)))
	}
	if len(questions) == 0 {
		questions = []string{"I'd like to understand more about the situation. Could you provide some additional context or details that might be relevant to our investigation?"}
	}
	return firstN(questions, MaxQuestions)
}

func (r *Retrieval) fallback(s *session.Session) {
	questions := FallbackQuestions(s)
	s.Questions = questions
	s.AddMessage(r.message(
		"Let me ask some key questions to better understand the situation:\n\n"+numbered(questions),
		"question", true,
		map[string]interface{}{"fallback_used": true, "question_count": len(questions)}))
}

func formatQuestions(questions []string, phase string) string {
	var parts []string
	switch phase {
	case "opening":
		parts = append(parts, "Let me start by understanding the basics:")
	case "development":
		parts = append(parts, "Now I'd like to explore some key areas in more detail:")
	case "probing":
		parts = append(parts, "I need to probe deeper into some specific aspects:")
	case "verification":
		parts = append(parts, "Let me verify some important details:")
	}
	if len(questions) == 1 {
		parts = append(parts, questions[0])
	} else {
		parts = append(parts, numbered(questions))
	}
	return strings.Join(parts, "\n\n")
}

func numbered(questions []string) string {
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	return strings.Join(lines, "\n\n")
}

func retrievalContext(s *session.Session) string {
	var parts []string
	st := s.Planning
	if st.Plan != nil {
		parts = append(parts, "CURRENT PHASE: "+string(st.Phase))
		if len(st.CurrentObjectives) > 0 {
			parts = append(parts, "CURRENT OBJECTIVES: "+strings.Join(st.CurrentObjectives, ", "))
		}
		if st.InterviewStrategy != nil {
			parts = append(parts, "INTERVIEW APPROACH: "+orDefault(st.InterviewStrategy.Approach, "adaptive"))
		}
	}
	if len(s.Entities) > 0 {
		var info []string
		for _, e := range s.Entities {
			info = append(info, fmt.Sprintf("%s (%s) [Priority: %s, Confidence: %.1f]", e.Name, e.Type, e.Priority, e.Confidence))
		}
		parts = append(parts, "TARGET ENTITIES: "+strings.Join(info, ", "))
	}
	if len(s.Gaps) > 0 {
		parts = append(parts, "CRITICAL INFORMATION GAPS: "+strings.Join(firstN(s.Gaps, 5), ", "))
	}
	if len(s.Focus) > 0 {
		parts = append(parts, "CURRENT FOCUS AREAS: "+strings.Join(s.Focus, ", "))
	}
	var strong []string
	for _, e := range s.Evidence {
		if e.Confidence > 0.7 {
			strong = append(strong, truncate(e.Content, 60))
		}
	}
	if len(strong) > 0 {
		parts = append(parts, "HIGH-CONFIDENCE EVIDENCE: "+strings.Join(lastN(strong, 3), "; "))
	}
	asked := 0
	for _, m := range s.History {
		if m.Type == "question" || m.Type == "adaptation" {
			asked++
		}
	}
	if asked > 0 {
		parts = append(parts, fmt.Sprintf("QUESTION SETS ALREADY ASKED: %d", asked))
	}
	if factors, ok := s.Extensions["sensitivity_factors"].([]string); ok && len(factors) > 0 {
		parts = append(parts, "SENSITIVITY FACTORS: "+strings.Join(firstN(factors, 3), ", "))
	}
	if len(parts) == 0 {
		return "Limited context available for questioning."
	}
	return strings.Join(parts, "\n")
}

func pivotContext(pa PivotAnalysis) string {
	parts := []string{fmt.Sprintf("RESPONSE CREDIBILITY: %.2f", pa.Credibility)}
	if pa.InformationDensity != "" {
		parts = append(parts, "INFORMATION DENSITY: "+pa.InformationDensity)
	}
	if len(pa.NewAngles) > 0 {
		parts = append(parts, "NEW ANGLES IDENTIFIED: "+strings.Join(firstN(pa.NewAngles, 3), ", "))
	}
	if len(pa.NewGaps) > 0 {
		parts = append(parts, "NEW GAPS IDENTIFIED: "+strings.Join(firstN(pa.NewGaps, 3), ", "))
	}
	if len(pa.NextFocus) > 0 {
		parts = append(parts, "RECOMMENDED FOCUS: "+strings.Join(firstN(pa.NextFocus, 2), ", "))
	}
	return strings.Join(parts, "\n")
}
