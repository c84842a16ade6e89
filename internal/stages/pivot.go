package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// EvidenceSource tags evidence taken from the user's answers.
const EvidenceSource = "user_interview"

// Pivot analyzes the latest answer, extracts evidence and re-aims the
// investigation.
type Pivot struct {
	base
}

// NewPivot creates the pivot stage.
func NewPivot(d Deps) *Pivot {
	return &Pivot{base: newBase(config.StagePivot, PivotAgent, pivotSystemPrompt, d)}
}

type pivotResponse struct {
	Value struct {
		Credibility    *score  `json:"credibility_score"`
		Density        string  `json:"information_density"`
		NewEntities    strList `json:"new_entities_mentioned"`
		KeyRevelations strList `json:"key_revelations"`
	} `json:"intelligence_value"`
	Opportunities struct {
		NewAngles   strList `json:"new_investigation_angles"`
		Gaps        strList `json:"information_gaps_identified"`
		Connections strList `json:"potential_connections"`
	} `json:"pivot_opportunities"`
	Recommendations struct {
		NextFocus strList `json:"next_focus_areas"`
		Strategy  string  `json:"questioning_strategy"`
	} `json:"strategic_recommendations"`
	Assessment struct {
		Actionable           strList `json:"actionable_intelligence"`
		RequiresVerification strList `json:"requires_verification"`
		Contradictions       strList `json:"contradictions_noted"`
	} `json:"evidence_assessment"`
}

// Process analyzes answer and folds the result into s.
func (p *Pivot) Process(ctx context.Context, s *session.Session, answer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := p.generate(ctx, fmt.Sprintf(pivotPrompt, pivotAnalysisContext(s), answer))
	if err == nil {
		var resp pivotResponse
		if err = decodeJSON(p.name, raw, &resp); err == nil {
			p.apply(s, resp)
			return nil
		}
	}

	p.fellBack(ctx, s, err)
	p.fallback(s, answer)
	return nil
}

func (p *Pivot) apply(s *session.Session, resp pivotResponse) {
	credibility := resp.Value.Credibility.orDefault(0.5)
	now := time.Now()

	var evidence []session.Evidence
	for _, intel := range resp.Assessment.Actionable {
		evidence = append(evidence, session.Evidence{
			Content:    intel,
			Source:     EvidenceSource,
			Type:       session.EvidenceTestimony,
			Confidence: credibility,
			Timestamp:  now,
			Metadata:   map[string]interface{}{"extracted_from": "pivot_analysis"},
		})
	}
	for _, rev := range resp.Value.KeyRevelations {
		evidence = append(evidence, session.Evidence{
			Content:    rev,
			Source:     EvidenceSource,
			Type:       session.EvidenceIntelligence,
			Confidence: credibility,
			Timestamp:  now,
			Metadata:   map[string]interface{}{"type": "revelation", "extracted_from": "pivot_analysis"},
		})
	}
	s.AppendEvidence(evidence...)
	s.AddGaps(resp.Opportunities.Gaps...)
	s.SetFocus(resp.Opportunities.NewAngles)
	s.RaiseConfidence(credibility * 0.1)

	summary := []string{fmt.Sprintf("Credibility: %.1f", credibility)}
	if n := len(resp.Opportunities.NewAngles); n > 0 {
		summary = append(summary, fmt.Sprintf("%d new investigation angles identified", n))
	}
	if n := len(resp.Opportunities.Gaps); n > 0 {
		summary = append(summary, fmt.Sprintf("%d information gaps identified", n))
	}

	s.AddMessage(p.message(
		"Pivot analysis complete: "+strings.Join(summary, ", "),
		"analysis", false,
		map[string]interface{}{
			"credibility_score":   credibility,
			"information_density": orDefault(resp.Value.Density, "medium"),
			"new_angles_count":    len(resp.Opportunities.NewAngles),
			"evidence_extracted":  len(evidence),
			"next_focus_areas":    []string(resp.Recommendations.NextFocus),
		}))
	p.logger.Info("pivot analysis complete",
		zap.String("session_id", s.ID),
		zap.Int("new_angles", len(resp.Opportunities.NewAngles)),
		zap.Int("evidence", len(evidence)))
}

func (p *Pivot) fallback(s *session.Session, answer string) {
	s.AppendEvidence(session.Evidence{
		Content:    truncate(answer, 200),
		Source:     EvidenceSource,
		Type:       session.EvidenceTestimony,
		Confidence: 0.6,
		Timestamp:  time.Now(),
		Metadata:   map[string]interface{}{"extraction_method": "fallback"},
	})
	s.AddMessage(p.message(
		"Basic pivot analysis completed. Response recorded as evidence.",
		"warning", false,
		map[string]interface{}{"fallback_used": true}))
}

func pivotAnalysisContext(s *session.Session) string {
	var parts []string
	if len(s.Entities) > 0 {
		var names []string
		for _, e := range s.Entities {
			names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Type))
		}
		parts = append(parts, "Target Entities: "+strings.Join(names, ", "))
	}
	if len(s.Questions) > 0 {
		parts = append(parts, "Recent Questions: "+strings.Join(lastN(s.Questions, 2), "; "))
	}
	if n := len(s.Evidence); n > 0 {
		var recent []string
		for _, e := range s.Evidence[max(0, n-3):] {
			recent = append(recent, e.Content)
		}
		parts = append(parts, "Recent Evidence: "+strings.Join(recent, "; "))
	}
	if len(s.Gaps) > 0 {
		parts = append(parts, "Known Gaps: "+strings.Join(lastN(s.Gaps, 3), "; "))
	}
	if len(parts) == 0 {
		return "No prior context available."
	}
	return strings.Join(parts, "\n")
}
