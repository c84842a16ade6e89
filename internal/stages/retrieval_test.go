package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

func TestRetrievalOrdersByPriority(t *testing.T) {
	out := `{
  "question_strategy": {"primary_approach": "rapport_first", "questioning_phase": "opening"},
  "questions": [
    {"question_text": "Low one?", "priority": "low"},
    {"question_text": "Critical one?", "priority": "critical"},
    {"question_text": "High one?", "priority": "high"},
    {"question_text": "Medium one?", "priority": "medium"},
    {"question_text": "Another high?", "priority": "high"}
  ],
  "tactical_considerations": {"sensitivity_factors": ["family"]}
}`
	rec := &recorder{out: out}
	s := plannedSession(t)

	require.NoError(t, NewRetrieval(testDeps(rec)).Process(context.Background(), s))

	assert.Equal(t, []string{"Critical one?", "High one?", "Another high?", "Medium one?"}, s.Questions)
	assert.Equal(t, []string{"family"}, s.Extensions["sensitivity_factors"])

	last := s.History[len(s.History)-1]
	assert.Equal(t, RetrievalAgent, last.Agent)
	assert.Equal(t, "question", last.Type)
	assert.True(t, last.RequiresResponse)
	assert.True(t, strings.HasPrefix(last.Text, "Let me start by understanding the basics:"))

	require.Len(t, rec.opts, 1)
	assert.Equal(t, config.StageRetrieval, rec.opts[0].Stage)
	assert.Contains(t, rec.prompts[0], "CURRENT OBJECTIVES: Confirm identity")
}

func TestRetrievalWalksSequenceWithoutStructuredQuestions(t *testing.T) {
	out := `{
  "questions": [{"question_text": "   "}],
  "questioning_sequence": {
    "opening_questions": ["a?", "b?", "c?"],
    "core_questions": ["d?"],
    "verification_questions": ["e?", "f?"]
  }
}`
	s := personSession("q")

	require.NoError(t, NewRetrieval(testDeps(replying(out))).Process(context.Background(), s))

	assert.Equal(t, []string{"a?", "b?", "d?", "e?"}, s.Questions)
}

func TestRetrievalFallback(t *testing.T) {
	s := personSession("Who is John Smith?")
	s.Gaps = []string{"Current Employer", "Home address"}

	require.NoError(t, NewRetrieval(testDeps(replying(`{"questions": []}`))).Process(context.Background(), s))

	require.Len(t, s.Questions, MaxQuestions)
	assert.Contains(t, s.Questions[0], "John Smith")
	assert.Equal(t, "Regarding current employer, what information can you share?", s.Questions[3])

	last := s.History[len(s.History)-1]
	assert.Equal(t, "question", last.Type)
	assert.True(t, last.RequiresResponse)
	assert.True(t, strings.HasPrefix(last.Text, "Let me ask some key questions to better understand the situation:"))
}

func TestFallbackQuestions(t *testing.T) {
	t.Run("empty session", func(t *testing.T) {
		qs := FallbackQuestions(session.New("s", "q"))
		require.Len(t, qs, 1)
		assert.Contains(t, qs[0], "additional context")
	})

	t.Run("organization", func(t *testing.T) {
		s := session.New("s", "q")
		s.Entities = []session.Entity{{Name: "Acme Corp", Type: session.EntityOrganization}}
		qs := FallbackQuestions(s)
		assert.Len(t, qs, 3)
		assert.Equal(t, "Who are the key people involved with Acme Corp?", qs[2])
	})

	t.Run("never more than four", func(t *testing.T) {
		s := personSession("q")
		s.Gaps = []string{"a", "b", "c", "d"}
		assert.Len(t, FallbackQuestions(s), MaxQuestions)
	})
}

func TestAdaptFromPivot(t *testing.T) {
	out := `{
  "adaptation_strategy": {"pivot_response": "deepen", "new_priorities": ["finances"]},
  "adapted_questions": [
    {"question_text": "One?"}, {"question_text": "Two?"}, {"question_text": "Three?"}
  ],
  "follow_up_strategy": {"immediate_follow_ups": ["Four?", "Five?"]}
}`
	rec := &recorder{out: out}
	s := personSession("q")
	pa := PivotAnalysis{Credibility: 0.8, NewAngles: []string{"finances"}, NextFocus: []string{"bank"}}

	require.NoError(t, NewRetrieval(testDeps(rec)).AdaptFromPivot(context.Background(), s, pa))

	assert.Equal(t, []string{"One?", "Two?", "Three?", "Four?"}, s.Questions)
	assert.Contains(t, rec.prompts[0], "RESPONSE CREDIBILITY: 0.80")
	assert.Contains(t, rec.prompts[0], "RECOMMENDED FOCUS: bank")

	last := s.History[len(s.History)-1]
	assert.Equal(t, "adaptation", last.Type)
	assert.True(t, last.RequiresResponse)
	assert.Contains(t, last.Text, "Strategy: deepen")
	assert.Contains(t, last.Text, "4. Four?")
}

func TestAdaptFromPivotFallsBack(t *testing.T) {
	s := personSession("q")

	require.NoError(t, NewRetrieval(testDeps(failing())).AdaptFromPivot(context.Background(), s, PivotAnalysis{}))

	assert.NotEmpty(t, s.Questions)
	assert.LessOrEqual(t, len(s.Questions), MaxQuestions)
	assert.Equal(t, "question", s.History[len(s.History)-1].Type)
}
