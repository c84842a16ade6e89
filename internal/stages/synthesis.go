package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// Report is the final intelligence product of an investigation.
type Report struct {
	ID               string           `json:"report_id"`
	SessionID        string           `json:"session_id"`
	ExecutiveSummary string           `json:"executive_summary"`
	KeyFindings      []Finding        `json:"key_findings"`
	EntityProfiles   []EntityProfile  `json:"entity_profiles"`
	Patterns         []Pattern        `json:"patterns_and_connections"`
	RemainingGaps    []Gap            `json:"remaining_gaps"`
	Recommendations  []Recommendation `json:"strategic_recommendations"`
	Assessment       Assessment       `json:"intelligence_assessment"`
	Confidence       float64          `json:"confidence_score"`
	EvidenceCount    int              `json:"evidence_count"`
	EntityCount      int              `json:"entity_count"`
	GenerationMethod string           `json:"generation_method"`
	Limitations      string           `json:"limitations,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

type Finding struct {
	Finding            string   `json:"finding"`
	Confidence         float64  `json:"confidence_score"`
	SupportingEvidence []string `json:"supporting_evidence"`
	Significance       string   `json:"significance"`
}

type EntityProfile struct {
	Name          string                 `json:"entity_name"`
	Type          string                 `json:"entity_type"`
	Summary       string                 `json:"profile_summary"`
	Attributes    map[string]interface{} `json:"key_attributes,omitempty"`
	Relationships []string               `json:"relationships,omitempty"`
	Confidence    float64                `json:"confidence_score"`
}

type Pattern struct {
	Pattern          string   `json:"pattern"`
	EntitiesInvolved []string `json:"entities_involved"`
	Significance     string   `json:"significance"`
	Confidence       float64  `json:"confidence"`
}

type Gap struct {
	Description         string `json:"gap_description"`
	Priority            string `json:"priority"`
	RecommendedApproach string `json:"recommended_approach,omitempty"`
}

type Recommendation struct {
	Recommendation string `json:"recommendation"`
	Rationale      string `json:"rationale,omitempty"`
	Priority       string `json:"priority"`
	Timeline       string `json:"timeline,omitempty"`
}

type Assessment struct {
	OverallConfidence    float64 `json:"overall_confidence"`
	InformationQuality   string  `json:"information_quality"`
	CoverageCompleteness float64 `json:"coverage_completeness"`
	Reliability          string  `json:"reliability_assessment"`
}

// ReportID derives the report id from the session id.
func ReportID(sessionID string) string { return "report_" + sessionID }

// ContextSummarizer supplies a compressed view of a session's evidence.
// The memory manager implements it.
type ContextSummarizer interface {
	ContextSummary(sessionID string) (string, bool)
}

// Synthesis writes the final report. It never modifies the session.
type Synthesis struct {
	base
	summarizer ContextSummarizer
}

// NewSynthesis creates the synthesis stage. summarizer may be nil.
func NewSynthesis(d Deps, summarizer ContextSummarizer) *Synthesis {
	return &Synthesis{
		base:       newBase(config.StageSynthesis, SynthesisAgent, synthesisSystemPrompt, d),
		summarizer: summarizer,
	}
}

type reportResponse struct {
	ExecutiveSummary string `json:"executive_summary"`
	KeyFindings      []struct {
		Finding            string  `json:"finding"`
		Confidence         *score  `json:"confidence_score"`
		SupportingEvidence strList `json:"supporting_evidence"`
		Significance       string  `json:"significance"`
	} `json:"key_findings"`
	EntityProfiles []struct {
		Name          string                 `json:"entity_name"`
		Type          string                 `json:"entity_type"`
		Summary       string                 `json:"profile_summary"`
		Attributes    map[string]interface{} `json:"key_attributes"`
		Relationships strList                `json:"relationships"`
		Confidence    *score                 `json:"confidence_score"`
	} `json:"entity_profiles"`
	Patterns []struct {
		Pattern          string  `json:"pattern"`
		EntitiesInvolved strList `json:"entities_involved"`
		Significance     string  `json:"significance"`
		Confidence       *score  `json:"confidence"`
	} `json:"patterns_and_connections"`
	RemainingGaps []struct {
		Description         string `json:"gap_description"`
		Priority            string `json:"priority"`
		RecommendedApproach string `json:"recommended_approach"`
	} `json:"remaining_gaps"`
	Recommendations []struct {
		Recommendation string `json:"recommendation"`
		Rationale      string `json:"rationale"`
		Priority       string `json:"priority"`
		Timeline       string `json:"timeline"`
	} `json:"strategic_recommendations"`
	Assessment struct {
		OverallConfidence    *score `json:"overall_confidence"`
		InformationQuality   string `json:"information_quality"`
		CoverageCompleteness *score `json:"coverage_completeness"`
		Reliability          string `json:"reliability_assessment"`
	} `json:"intelligence_assessment"`
}

// GenerateReport builds a report from the session's accumulated state.
func (y *Synthesis) GenerateReport(ctx context.Context, s *session.Session) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := y.generate(ctx, fmt.Sprintf(reportPrompt, y.reportContext(s)))
	if err == nil {
		var resp reportResponse
		if err = decodeJSON(y.name, raw, &resp); err == nil {
			if strings.TrimSpace(resp.ExecutiveSummary) != "" || len(resp.KeyFindings) > 0 {
				r := y.build(s, resp)
				y.logger.Info("report generated",
					zap.String("session_id", s.ID),
					zap.Int("findings", len(r.KeyFindings)))
				return r, nil
			}
			err = &ParseError{Stage: y.name, Raw: truncate(raw, 200), Err: fmt.Errorf("report has no summary or findings")}
		}
	}

	y.fellBack(ctx, s, err)
	return FallbackReport(s), nil
}

func (y *Synthesis) build(s *session.Session, resp reportResponse) *Report {
	r := newReport(s)
	r.GenerationMethod = "llm"
	r.ExecutiveSummary = orDefault(resp.ExecutiveSummary, "No summary available")

	for _, f := range resp.KeyFindings {
		if strings.TrimSpace(f.Finding) == "" {
			continue
		}
		r.KeyFindings = append(r.KeyFindings, Finding{
			Finding:            f.Finding,
			Confidence:         f.Confidence.orDefault(s.Confidence),
			SupportingEvidence: []string(f.SupportingEvidence),
			Significance:       orDefault(f.Significance, "medium"),
		})
	}
	for _, e := range resp.EntityProfiles {
		r.EntityProfiles = append(r.EntityProfiles, EntityProfile{
			Name:          e.Name,
			Type:          e.Type,
			Summary:       e.Summary,
			Attributes:    e.Attributes,
			Relationships: []string(e.Relationships),
			Confidence:    e.Confidence.orDefault(0.5),
		})
	}
	for _, p := range resp.Patterns {
		r.Patterns = append(r.Patterns, Pattern{
			Pattern:          p.Pattern,
			EntitiesInvolved: []string(p.EntitiesInvolved),
			Significance:     orDefault(p.Significance, "medium"),
			Confidence:       p.Confidence.orDefault(0.5),
		})
	}
	for _, g := range resp.RemainingGaps {
		r.RemainingGaps = append(r.RemainingGaps, Gap{
			Description:         g.Description,
			Priority:            orDefault(g.Priority, "medium"),
			RecommendedApproach: g.RecommendedApproach,
		})
	}
	for _, rec := range resp.Recommendations {
		r.Recommendations = append(r.Recommendations, Recommendation{
			Recommendation: rec.Recommendation,
			Rationale:      rec.Rationale,
			Priority:       orDefault(rec.Priority, "medium"),
			Timeline:       rec.Timeline,
		})
	}

	a := resp.Assessment
	r.Confidence = a.OverallConfidence.orDefault(s.Confidence)
	r.Assessment = Assessment{
		OverallConfidence:    r.Confidence,
		InformationQuality:   orDefault(a.InformationQuality, "fair"),
		CoverageCompleteness: a.CoverageCompleteness.orDefault(0),
		Reliability:          orDefault(a.Reliability, "medium"),
	}
	return r
}

func newReport(s *session.Session) *Report {
	return &Report{
		ID:              ReportID(s.ID),
		SessionID:       s.ID,
		KeyFindings:     []Finding{},
		EntityProfiles:  []EntityProfile{},
		Patterns:        []Pattern{},
		RemainingGaps:   []Gap{},
		Recommendations: []Recommendation{},
		Confidence:      s.Confidence,
		EvidenceCount:   len(s.Evidence),
		EntityCount:     len(s.Entities),
		GeneratedAt:     time.Now(),
	}
}

// FallbackReport builds a report from counts and the five highest-confidence
// evidence items.
func FallbackReport(s *session.Session) *Report {
	r := newReport(s)
	r.GenerationMethod = "fallback"
	r.Limitations = "Report generated using fallback method due to processing issues"
	r.ExecutiveSummary = strings.Join([]string{
		"Investigation conducted for query: " + s.Query,
		fmt.Sprintf("Collected %d pieces of evidence", len(s.Evidence)),
		fmt.Sprintf("Analyzed %d target entities", len(s.Entities)),
	}, ". ")

	ranked := append([]session.Evidence(nil), s.Evidence...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Confidence > ranked[j].Confidence })
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	for _, e := range ranked {
		r.KeyFindings = append(r.KeyFindings, Finding{
			Finding:            truncate(e.Content, 100),
			Confidence:         e.Confidence,
			SupportingEvidence: []string{e.Source},
			Significance:       "medium",
		})
	}
	for _, g := range lastN(s.Gaps, 10) {
		r.RemainingGaps = append(r.RemainingGaps, Gap{Description: g, Priority: "medium"})
	}
	r.Assessment = Assessment{
		OverallConfidence:  s.Confidence,
		InformationQuality: "fair",
		Reliability:        "low",
	}
	return r
}

func (y *Synthesis) reportContext(s *session.Session) string {
	sections := []string{"ORIGINAL QUERY: " + s.Query}
	if len(s.Entities) > 0 {
		var info []string
		for _, e := range s.Entities {
			info = append(info, fmt.Sprintf("%s (%s) [Priority: %s]", e.Name, e.Type, e.Priority))
		}
		sections = append(sections, "TARGET ENTITIES: "+strings.Join(info, ", "))
	}
	if len(s.Focus) > 0 {
		sections = append(sections, "INVESTIGATION FOCUS: "+strings.Join(s.Focus, ", "))
	}
	if len(s.Evidence) > 0 {
		summary := SummarizeEvidence(s.Evidence)
		if y.summarizer != nil {
			if compressed, ok := y.summarizer.ContextSummary(s.ID); ok && compressed != "" {
				summary = compressed
			}
		}
		sections = append(sections, fmt.Sprintf("EVIDENCE COLLECTED (%d items):\n%s", len(s.Evidence), summary))
	}
	if len(s.History) > 0 {
		sections = append(sections, "INVESTIGATION PROCESS:\n"+summarizeHistory(s.History))
	}
	if len(s.Gaps) > 0 {
		sections = append(sections, "IDENTIFIED GAPS: "+strings.Join(lastN(s.Gaps, 10), ", "))
	}
	if len(s.Questions) > 0 {
		sections = append(sections, "RECENT QUESTIONS: "+strings.Join(s.Questions, "; "))
	}
	return strings.Join(sections, "\n\n")
}

// SummarizeEvidence groups evidence by type with the average confidence and
// the three strongest items of each type.
func SummarizeEvidence(evidence []session.Evidence) string {
	if len(evidence) == 0 {
		return "No evidence collected"
	}
	var order []session.EvidenceType
	byType := map[session.EvidenceType][]session.Evidence{}
	for _, e := range evidence {
		t, _ := session.ParseEvidenceType(string(e.Type))
		if _, seen := byType[t]; !seen {
			order = append(order, t)
		}
		byType[t] = append(byType[t], e)
	}

	var lines []string
	for _, t := range order {
		items := byType[t]
		total := 0.0
		for _, e := range items {
			total += e.Confidence
		}
		lines = append(lines, fmt.Sprintf("- %s: %d items (avg confidence: %.2f)",
			strings.ToUpper(string(t[:1]))+string(t[1:]), len(items), total/float64(len(items))))

		top := append([]session.Evidence(nil), items...)
		sort.SliceStable(top, func(i, j int) bool { return top[i].Confidence > top[j].Confidence })
		for _, e := range top[:min(3, len(top))] {
			lines = append(lines, fmt.Sprintf("  • %s (confidence: %.2f)", truncate(e.Content, 100), e.Confidence))
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeHistory(history []session.Message) string {
	var order []string
	byAgent := map[string][]session.Message{}
	for _, m := range history {
		if _, seen := byAgent[m.Agent]; !seen {
			order = append(order, m.Agent)
		}
		byAgent[m.Agent] = append(byAgent[m.Agent], m)
	}
	var lines []string
	for _, agent := range order {
		msgs := byAgent[agent]
		if agent == session.UserAgent {
			lines = append(lines, fmt.Sprintf("- User provided %d responses", len(msgs)))
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %d interactions", agent, len(msgs)))
		for _, m := range msgs[max(0, len(msgs)-2):] {
			lines = append(lines, "  • "+truncate(m.Text, 80))
		}
	}
	return strings.Join(lines, "\n")
}
