package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

const analysisJSON = "```json\n" + `{
  "query_classification": {"complexity": "complex", "sensitivity_level": "high", "investigation_type": "person", "estimated_scope": "broad"},
  "primary_entities": [
    {"name": "John Smith", "type": "person", "priority": "high", "confidence": 0.9, "context_clues": ["CFO"]}
  ],
  "secondary_entities": [
    {"name": "Acme Corp", "type": "organization", "relationship_to_primary": "employer"}
  ],
  "information_requirements": {"primary_objectives": ["Find current employer"], "information_categories": ["employment"]},
  "collection_strategy": {"recommended_approaches": ["interview"], "risk_considerations": ["subject may be alerted"]}
}` + "\n```"

func TestQueryAnalysisAppliesModelOutput(t *testing.T) {
	rec := &recorder{out: analysisJSON}
	s := session.New("s-1", "Who does John Smith work for?")

	require.NoError(t, NewQueryAnalysis(testDeps(rec)).Process(context.Background(), s))

	require.Len(t, s.Entities, 2)
	assert.Equal(t, "John Smith", s.Entities[0].Name)
	assert.Equal(t, session.PriorityHigh, s.Entities[0].Priority)
	assert.InDelta(t, 0.9, s.Entities[0].Confidence, 1e-9)
	assert.Equal(t, session.EntityOrganization, s.Entities[1].Type)
	assert.Equal(t, session.PriorityLow, s.Entities[1].Priority)
	assert.InDelta(t, 0.6, s.Entities[1].Confidence, 1e-9)
	assert.Equal(t, "employer", s.Entities[1].Metadata["relationship_to_primary"])

	assert.Equal(t, "complex", s.Analysis.Complexity)
	assert.Equal(t, "llm", s.Analysis.ExtractionMethod)
	assert.Equal(t, []string{"Find current employer"}, s.Gaps)
	assert.Equal(t, "broad", s.Extensions["estimated_scope"])

	last := s.History[len(s.History)-1]
	assert.Equal(t, QueryAnalysisAgent, last.Agent)
	assert.Equal(t, "analysis", last.Type)

	require.Len(t, rec.prompts, 1)
	assert.Contains(t, rec.prompts[0], "Who does John Smith work for?")
	assert.Equal(t, config.StageQueryAnalysis, rec.opts[0].Stage)
}

func TestQueryAnalysisFallsBack(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"provider error", testDeps(failing())},
		{"no json", testDeps(replying("I'm not able to do that."))},
		{"no entities", testDeps(replying(`{"primary_entities": [], "secondary_entities": []}`))},
		{"no generator", Deps{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session.New("s-1", "Investigate Acme Corp in Berlin")
			require.NoError(t, NewQueryAnalysis(tt.deps).Process(context.Background(), s))

			require.NotEmpty(t, s.Entities)
			assert.Equal(t, "enhanced_fallback", s.Analysis.ExtractionMethod)
			assert.Equal(t, "moderate", s.Analysis.Complexity)
			last := s.History[len(s.History)-1]
			assert.Equal(t, "warning", last.Type)
			assert.Contains(t, last.Text, "Enhanced fallback analysis complete")
		})
	}
}

func TestQueryAnalysisStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := session.New("s-1", "anything")

	err := NewQueryAnalysis(testDeps(replying(analysisJSON))).Process(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.History)
}

func TestExtractEntities(t *testing.T) {
	type want struct {
		name string
		typ  session.EntityType
	}
	tests := []struct {
		query string
		want  []want
	}{
		{
			query: "Investigate Acme Corp in Berlin",
			want:  []want{{"Acme Corp", session.EntityOrganization}, {"Berlin", session.EntityLocation}},
		},
		{
			query: "Tell me about John Smith",
			want:  []want{{"John Smith", session.EntityPerson}},
		},
		{
			query: "what is going on here",
			want:  []want{{"Unknown Target", session.EntityPerson}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			entities := ExtractEntities(tt.query)
			var got []want
			for _, e := range entities {
				got = append(got, want{e.Name, e.Type})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractEntitiesConfidence(t *testing.T) {
	entities := ExtractEntities("Tell me about John Smith")
	require.Len(t, entities, 1)
	assert.InDelta(t, 0.5, entities[0].Confidence, 1e-9)

	entities = ExtractEntities("nothing capitalised")
	require.Len(t, entities, 1)
	assert.InDelta(t, 0.3, entities[0].Confidence, 1e-9)
}
