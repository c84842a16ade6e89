package stages

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-intel/internal/session"
)

const reportJSON = `{
  "executive_summary": "John Smith works for Acme Corp and travels to Zurich.",
  "key_findings": [
    {"finding": "Employed by Acme Corp", "confidence_score": "0.9", "supporting_evidence": ["interview"], "significance": "high"},
    {"finding": "", "confidence_score": 0.1}
  ],
  "entity_profiles": [{"entity_name": "John Smith", "entity_type": "person", "profile_summary": "CFO"}],
  "remaining_gaps": [{"gap_description": "Bank details", "priority": "high"}],
  "strategic_recommendations": [{"recommendation": "Review travel records"}],
  "intelligence_assessment": {"overall_confidence": 0.75, "information_quality": "good"}
}`

func evidenceSession() *session.Session {
	s := personSession("Who does John Smith work for?")
	s.Confidence = 0.4
	for i, c := range []float64{0.3, 0.9, 0.5, 0.7, 0.95, 0.2, 0.6} {
		s.AppendEvidence(session.Evidence{
			Content:    fmt.Sprintf("item %d", i),
			Source:     EvidenceSource,
			Type:       session.EvidenceTestimony,
			Confidence: c,
		})
	}
	s.AddMessage(session.Message{Agent: session.UserAgent, Text: "He works at Acme.", Type: "response"})
	return s
}

func TestGenerateReportFromModel(t *testing.T) {
	s := evidenceSession()

	r, err := NewSynthesis(testDeps(replying(reportJSON)), nil).GenerateReport(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "report_s-1", r.ID)
	assert.Equal(t, "llm", r.GenerationMethod)
	require.Len(t, r.KeyFindings, 1)
	assert.InDelta(t, 0.9, r.KeyFindings[0].Confidence, 1e-9)
	assert.Equal(t, "medium", r.Recommendations[0].Priority)
	assert.InDelta(t, 0.75, r.Confidence, 1e-9)
	assert.Equal(t, "good", r.Assessment.InformationQuality)
	assert.Equal(t, 7, r.EvidenceCount)
	assert.Equal(t, 1, r.EntityCount)
}

func TestGenerateReportFallback(t *testing.T) {
	s := evidenceSession()

	r, err := NewSynthesis(testDeps(failing()), nil).GenerateReport(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "fallback", r.GenerationMethod)
	assert.Equal(t, "Investigation conducted for query: Who does John Smith work for?. Collected 7 pieces of evidence. Analyzed 1 target entities", r.ExecutiveSummary)
	require.Len(t, r.KeyFindings, 5)
	var got []float64
	for _, f := range r.KeyFindings {
		got = append(got, f.Confidence)
		assert.Equal(t, []string{EvidenceSource}, f.SupportingEvidence)
	}
	assert.Equal(t, []float64{0.95, 0.9, 0.7, 0.6, 0.5}, got)
	assert.InDelta(t, 0.4, r.Confidence, 1e-9)
	assert.NotEmpty(t, r.Limitations)
}

func TestGenerateReportEmptyOutputFallsBack(t *testing.T) {
	r, err := NewSynthesis(testDeps(replying(`{"executive_summary": "  ", "key_findings": []}`)), nil).
		GenerateReport(context.Background(), evidenceSession())
	require.NoError(t, err)
	assert.Equal(t, "fallback", r.GenerationMethod)
}

func TestGenerateReportDoesNotModifySession(t *testing.T) {
	for name, d := range map[string]Deps{
		"model":    testDeps(replying(reportJSON)),
		"fallback": testDeps(failing()),
	} {
		t.Run(name, func(t *testing.T) {
			s := evidenceSession()
			before := s.Clone()

			_, err := NewSynthesis(d, nil).GenerateReport(context.Background(), s)
			require.NoError(t, err)

			if diff := cmp.Diff(before, s, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("session changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestFallbackReportIsDeterministic(t *testing.T) {
	s := evidenceSession()
	a := FallbackReport(s)
	b := FallbackReport(s)

	if diff := cmp.Diff(a, b, cmpopts.IgnoreFields(Report{}, "GeneratedAt")); diff != "" {
		t.Errorf("reports differ:\n%s", diff)
	}
}

type fixedSummary string

func (f fixedSummary) ContextSummary(string) (string, bool) { return string(f), true }

func TestReportPromptUsesContextSummary(t *testing.T) {
	rec := &recorder{out: reportJSON}

	_, err := NewSynthesis(testDeps(rec), fixedSummary("- compressed memory")).GenerateReport(context.Background(), evidenceSession())
	require.NoError(t, err)

	require.Len(t, rec.prompts, 1)
	assert.Contains(t, rec.prompts[0], "EVIDENCE COLLECTED (7 items):\n- compressed memory")
	assert.Contains(t, rec.prompts[0], "User provided 1 responses")
}

func TestSummarizeEvidence(t *testing.T) {
	assert.Equal(t, "No evidence collected", SummarizeEvidence(nil))

	out := SummarizeEvidence(evidenceSession().Evidence)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "- Testimony: 7 items (avg confidence: 0.59)", lines[0])
	assert.Equal(t, "  • item 4 (confidence: 0.95)", lines[1])
}

func TestSummarizeEvidenceUntypedItems(t *testing.T) {
	out := SummarizeEvidence([]session.Evidence{
		{Content: "untyped", Confidence: 0.5},
		{Content: "odd", Type: "Rumour", Confidence: 0.7},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "- Testimony: 2 items (avg confidence: 0.60)", lines[0])
	assert.Equal(t, "  • odd (confidence: 0.70)", lines[1])
}
