// Package adapter routes generation requests from pipeline stages to a
// configured LLM backend.
//
// Backends:
//  1. Gemini: gemini-2.5-pro, gemini-2.5-flash (google.golang.org/genai)
//  2. OpenAI: gpt-4o, o-series
//  3. Ollama: local models through the OpenAI-compatible /v1 endpoint
//  4. Custom: any OpenAI-compatible endpoint (vLLM, LocalAI, LM Studio)
//
// The router picks a model per stage (stage_models, falling back to the
// default model), then a backend from the model name. Responses may be
// cached and concurrent calls are bounded.
//
// With no credentials the router is unconfigured: every call fails with
// ErrProviderNotConfigured and the stages run their deterministic fallbacks.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kubilitics/kubilitics-intel/internal/cache"
	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/llm/provider/gemini"
	"github.com/kubilitics/kubilitics-intel/internal/llm/provider/openai"
	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
	"github.com/kubilitics/kubilitics-intel/internal/metrics"
)

// ProviderType identifies an LLM backend.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderCustom ProviderType = "custom"
	ProviderNone   ProviderType = "none" // No LLM configured
)

// ErrProviderNotConfigured is returned when a call needs a backend that has no credentials.
var ErrProviderNotConfigured = errors.New("LLM provider not configured")

// Config holds the router settings.
type Config struct {
	Provider     ProviderType
	APIKey       string
	BaseURL      string
	Model        string
	GeminiAPIKey string
	OpenAIAPIKey string

	Timeout       time.Duration
	MaxConcurrent int64
	Temperature   float64
	MaxTokens     int
	StageModels   map[string]string
}

// ConfigFrom maps the service configuration onto router settings.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Provider:      ProviderType(cfg.LLM.Provider),
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		GeminiAPIKey:  cfg.LLM.GeminiAPIKey,
		OpenAIAPIKey:  cfg.LLM.OpenAIAPIKey,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxConcurrent: int64(cfg.LLM.MaxConcurrent),
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxOutputTokens,
		StageModels:   cfg.LLM.StageModels,
	}
}

// Router implements types.Generator over several backends.
type Router struct {
	provider    ProviderType
	model       string
	stageModels map[string]string
	backends    map[ProviderType]types.Generator

	temperature float64
	maxTokens   int
	timeout     time.Duration
	sem         *semaphore.Weighted

	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Option configures the router.
type Option func(*Router)

// WithCache enables response caching.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Router) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithBackend registers or replaces the generator for a provider.
func WithBackend(p ProviderType, g types.Generator) Option {
	return func(r *Router) { r.backends[p] = g }
}

// WithLogger sets the router logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter builds backends for every provider that has credentials.
// Missing credentials are not an error; see Configured.
func NewRouter(ctx context.Context, cfg *Config, opts ...Option) (*Router, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderNone
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}

	r := &Router{
		provider:    cfg.Provider,
		model:       cfg.Model,
		stageModels: cfg.StageModels,
		backends:    make(map[ProviderType]types.Generator),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:      zap.NewNop(),
	}

	geminiKey := cfg.GeminiAPIKey
	if geminiKey == "" && cfg.Provider == ProviderGemini {
		geminiKey = cfg.APIKey
	}
	if geminiKey != "" {
		client, err := gemini.NewGeminiClient(ctx, geminiKey, defaultModelFor(cfg, ProviderGemini))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		r.backends[ProviderGemini] = client
	}

	openAIKey := cfg.OpenAIAPIKey
	if openAIKey == "" && cfg.Provider == ProviderOpenAI {
		openAIKey = cfg.APIKey
	}
	if openAIKey != "" {
		client, err := openai.NewOpenAIClient(openAIKey, defaultModelFor(cfg, ProviderOpenAI),
			openai.WithTimeout(cfg.Timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		r.backends[ProviderOpenAI] = client
	}

	switch cfg.Provider {
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		client, err := openai.NewOpenAIClient(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(baseURL), openai.WithProviderName(string(ProviderOllama)), openai.WithTimeout(cfg.Timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		r.backends[ProviderOllama] = client
	case ProviderCustom:
		if cfg.BaseURL != "" {
			client, err := openai.NewOpenAIClient(cfg.APIKey, cfg.Model,
				openai.WithBaseURL(cfg.BaseURL), openai.WithProviderName(string(ProviderCustom)), openai.WithTimeout(cfg.Timeout))
			if err != nil {
				return nil, fmt.Errorf("failed to create Custom client: %w", err)
			}
			r.backends[ProviderCustom] = client
		}
	case ProviderGemini, ProviderOpenAI, ProviderNone:
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func defaultModelFor(cfg *Config, p ProviderType) string {
	if cfg.Provider == p {
		return cfg.Model
	}
	return ""
}

// Configured reports whether the default provider has a backend.
func (r *Router) Configured() bool {
	_, ok := r.backends[r.provider]
	return ok
}

// Provider returns the default provider.
func (r *Router) Provider() ProviderType { return r.provider }

// ModelFor returns the model used for stage.
func (r *Router) ModelFor(stage string) string {
	if m := r.stageModels[stage]; m != "" {
		return m
	}
	return r.model
}

// ProviderForModel infers the backend from a model name. Unknown names go
// to def, which covers local model names served by Ollama or a custom endpoint.
func ProviderForModel(model string, def ProviderType) ProviderType {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "models/gemini"):
		return ProviderGemini
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		if def == ProviderCustom || def == ProviderOllama {
			return def
		}
		return ProviderOpenAI
	default:
		return def
	}
}

// Generate implements types.Generator.
func (r *Router) Generate(ctx context.Context, prompt, system string, opts types.Options) (string, error) {
	if opts.Model == "" {
		opts.Model = r.ModelFor(opts.Stage)
	}
	if opts.Temperature <= 0 {
		opts.Temperature = r.temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = r.maxTokens
	}

	provider := ProviderForModel(opts.Model, r.provider)
	backend, ok := r.backends[provider]
	if !ok {
		return "", &types.ProviderError{Provider: string(provider), Model: opts.Model, Err: ErrProviderNotConfigured}
	}

	key := cacheKey(provider, opts, system, prompt)
	if r.cache != nil {
		if v, found, err := r.cache.Get(ctx, key); err == nil && found {
			metrics.LLMCacheHits.WithLabelValues("hit").Inc()
			return v, nil
		} else if err != nil {
			r.logger.Warn("llm cache lookup failed", zap.Error(err))
		}
		metrics.LLMCacheHits.WithLabelValues("miss").Inc()
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", &types.ProviderError{Provider: string(provider), Model: opts.Model, Err: err}
	}
	defer r.sem.Release(1)

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := backend.Generate(callCtx, prompt, system, opts)
	metrics.LLMRequestDuration.WithLabelValues(string(provider), opts.Model).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(string(provider), opts.Model, status).Inc()

	if err != nil {
		r.logger.Warn("llm request failed",
			zap.String("provider", string(provider)),
			zap.String("model", opts.Model),
			zap.String("stage", opts.Stage),
			zap.Error(err))
		if !types.IsProviderError(err) {
			err = &types.ProviderError{Provider: string(provider), Model: opts.Model, Err: err}
		}
		return "", err
	}

	if r.cache != nil {
		if cerr := r.cache.Set(ctx, key, text, r.cacheTTL); cerr != nil {
			r.logger.Warn("llm cache store failed", zap.Error(cerr))
		}
	}
	return text, nil
}

func cacheKey(p ProviderType, opts types.Options, system, prompt string) string {
	h := sha256.New()
	for _, part := range []string{
		string(p), opts.Model, strconv.FormatFloat(opts.Temperature, 'f', 3, 64),
		strconv.Itoa(opts.MaxTokens), system, prompt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
