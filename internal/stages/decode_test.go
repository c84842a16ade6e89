package stages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`, true},
		{"plain fence", "```\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{"prose around", `Sure! {"a":1} hope that helps`, `{"a":1}`, true},
		{"no json", "I cannot help with that.", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONBlock(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSONReturnsParseError(t *testing.T) {
	var dst struct{ A int }

	err := decodeJSON("pivot", "no braces here", &dst)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "pivot", pe.Stage)
	assert.ErrorIs(t, err, errNoJSON)

	err = decodeJSON("pivot", `{"A": "not a number"}`, &dst)
	require.ErrorAs(t, err, &pe)
}

func TestScoreAcceptsLooseNumbers(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`{"s": 0.8}`, 0.8},
		{`{"s": "0.65"}`, 0.65},
		{`{"s": "80%"}`, 0.8},
		{`{"s": 85}`, 0.85},
		{`{"s": -0.2}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var dst struct {
				S *score `json:"s"`
			}
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &dst))
			assert.InDelta(t, tt.want, dst.S.orDefault(-1), 1e-9)
		})
	}

	var missing struct {
		S *score `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s": null}`), &missing))
	assert.Equal(t, 0.5, missing.S.orDefault(0.5))

	assert.Error(t, json.Unmarshal([]byte(`{"s": "high"}`), &missing))
}

func TestStrListAcceptsStringOrArray(t *testing.T) {
	var dst struct {
		L strList `json:"l"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"l": "single"}`), &dst))
	assert.Equal(t, strList{"single"}, dst.L)

	dst.L = nil
	require.NoError(t, json.Unmarshal([]byte(`{"l": ["a", "  ", 3, {"k": "v"}]}`), &dst))
	assert.Equal(t, strList{"a", "3", `{"k": "v"}`}, dst.L)

	dst.L = nil
	require.NoError(t, json.Unmarshal([]byte(`{"l": null}`), &dst))
	assert.Nil(t, dst.L)
}

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Zürich...", truncate("Zürich Bank", 6))
}
