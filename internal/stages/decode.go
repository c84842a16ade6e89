package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errNoGenerator = errors.New("no generator configured")
	errNoJSON      = errors.New("no JSON object in model output")
)

// ParseError reports model output that could not be decoded into the
// shape a stage expects. It routes to the same fallback as a provider error.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unusable model output: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// extractJSONBlock pulls a JSON object out of a model response, handling
// markdown code fences and surrounding prose.
func extractJSONBlock(response string) (string, bool) {
	stripped := response
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if idx := strings.Index(stripped, fence); idx != -1 {
			stripped = stripped[idx+len(fence):]
			if end := strings.Index(stripped, "```"); end != -1 {
				stripped = stripped[:end]
			}
			break
		}
	}

	jsonStart := strings.Index(stripped, "{")
	jsonEnd := strings.LastIndex(stripped, "}")
	if jsonStart != -1 && jsonEnd != -1 && jsonEnd > jsonStart {
		return stripped[jsonStart : jsonEnd+1], true
	}
	return "", false
}

// decodeJSON decodes the JSON object embedded in raw into dst.
func decodeJSON[T any](stage, raw string, dst *T) error {
	block, ok := extractJSONBlock(raw)
	if !ok {
		return &ParseError{Stage: stage, Raw: truncate(raw, 200), Err: errNoJSON}
	}
	if err := json.Unmarshal([]byte(block), dst); err != nil {
		return &ParseError{Stage: stage, Raw: truncate(raw, 200), Err: err}
	}
	return nil
}

// score is a [0,1] number that also accepts "0.8", "80%" and null.
type score float64

func (s *score) UnmarshalJSON(b []byte) error {
	text := strings.TrimSpace(string(b))
	if text == "null" || text == `""` {
		return nil
	}
	text = strings.Trim(text, `"`)
	percent := strings.HasSuffix(text, "%")
	text = strings.TrimSuffix(text, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("invalid score %s", string(b))
	}
	if percent || v > 1 {
		v /= 100
	}
	*s = score(clamp01(v))
	return nil
}

func (s *score) orDefault(def float64) float64 {
	if s == nil {
		return def
	}
	return float64(*s)
}

// strList accepts a JSON array of strings, a single string, or an array
// mixing strings with other values (non-strings are rendered as JSON).
type strList []string

func (l *strList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			*l = strList{one}
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		if strings.TrimSpace(string(b)) == "null" {
			return nil
		}
		return err
	}
	out := make(strList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		out = append(out, string(r))
	}
	*l = out
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
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

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func lastN(list []string, n int) []string {
	if len(list) > n {
		return list[len(list)-n:]
	}
	return list
}
