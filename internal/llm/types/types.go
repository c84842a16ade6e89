package types

import (
	"context"
	"errors"
	"fmt"
)

// Generator is the single capability the pipeline needs from a language
// model: given a prompt and a system instruction, produce text.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, opts Options) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt, system string, opts Options) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt, system string, opts Options) (string, error) {
	return f(ctx, prompt, system, opts)
}

// Options tunes one generation call. Zero values mean "use the configured
// default".
type Options struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Stage names the calling pipeline stage; the router uses it to pick a
	// per-stage model and to label metrics.
	Stage string `json:"stage,omitempty"`
}

// ProviderError reports a failed model call: transport, auth, quota,
// blocked content or an empty answer.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (model %s, status %d): %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error (model %s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err is or wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ErrEmptyResponse is wrapped when a provider returns no text.
var ErrEmptyResponse = errors.New("empty response from model")
