package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kubilitics/kubilitics-intel/internal/orchestrator"
	"github.com/kubilitics/kubilitics-intel/internal/session"
	"github.com/kubilitics/kubilitics-intel/internal/stages"
)

func newDegradedOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New(session.NewStore(nil), nil)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestInterviewStopsOnDone(t *testing.T) {
	o := newDegradedOrchestrator(t)
	in := strings.NewReader("He works at Acme Corp.\n\ndone\n")
	var prompt bytes.Buffer

	report, err := interview(context.Background(), o, "Who does John Smith work for?", in, &prompt)
	require.NoError(t, err)

	assert.Equal(t, "fallback", report.GenerationMethod)
	assert.Contains(t, prompt.String(), "1. ")
	assert.Contains(t, prompt.String(), "Generating report...")

	sess, err := o.Get(report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.UserTurns())
	assert.Equal(t, session.StatusCompleted, sess.Status)
}

func TestInterviewStopsOnEOF(t *testing.T) {
	o := newDegradedOrchestrator(t)

	report, err := interview(context.Background(), o, "Investigate Acme Corp", strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, stages.ReportID(report.SessionID), report.ID)
}

func TestWriteReportFormats(t *testing.T) {
	r := &stages.Report{
		ID:               "report_abc",
		SessionID:        "abc",
		ExecutiveSummary: "Investigation conducted",
		Confidence:       0.4,
		GenerationMethod: "fallback",
	}

	var js bytes.Buffer
	require.NoError(t, writeReport(&js, r, "json"))
	var fromJSON map[string]interface{}
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	assert.Equal(t, "report_abc", fromJSON["report_id"])

	var ym bytes.Buffer
	require.NoError(t, writeReport(&ym, r, "yaml"))
	var fromYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))
	assert.Equal(t, "report_abc", fromYAML["report_id"])
	assert.Equal(t, "fallback", fromYAML["generation_method"])
}

func TestRootCommandWiring(t *testing.T) {
	root := rootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "investigate", "version"}, names)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), Version)

	root = rootCmd()
	root.SetArgs([]string{"investigate", "query", "--output", "xml"})
	root.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, root.Execute(), "unsupported output format")
}
