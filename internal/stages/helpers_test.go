package stages

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

func replying(out string) types.Generator {
	return types.GeneratorFunc(func(context.Context, string, string, types.Options) (string, error) {
		return out, nil
	})
}

func failing() types.Generator {
	return types.GeneratorFunc(func(context.Context, string, string, types.Options) (string, error) {
		return "", &types.ProviderError{Provider: "fake", Model: "fake-1", StatusCode: 503, Err: errors.New("unavailable")}
	})
}

// recorder replies with a fixed output and keeps every call.
type recorder struct {
	mu      sync.Mutex
	out     string
	prompts []string
	systems []string
	opts    []types.Options
}

func (r *recorder) Generate(_ context.Context, prompt, system string, opts types.Options) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	r.systems = append(r.systems, system)
	r.opts = append(r.opts, opts)
	return r.out, nil
}

func testDeps(g types.Generator) Deps {
	return Deps{LLM: g, Logger: zap.NewNop()}
}

func personSession(query string) *session.Session {
	s := session.New("s-1", query)
	s.Entities = []session.Entity{{
		Name:       "John Smith",
		Type:       session.EntityPerson,
		Priority:   session.PriorityHigh,
		Confidence: 0.8,
	}}
	return s
}
