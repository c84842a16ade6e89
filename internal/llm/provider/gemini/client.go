// Package gemini calls Google's Gemini models through the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
)

const (
	DefaultModel     = "gemini-2.5-pro"
	DefaultMaxTokens = 4096
)

// GeminiClientImpl implements types.Generator.
type GeminiClientImpl struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClientImpl, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClientImpl{
		client:    client,
		model:     model,
		maxTokens: DefaultMaxTokens,
	}, nil
}

// Name returns the provider name.
func (c *GeminiClientImpl) Name() string { return "gemini" }

// Generate runs a single-turn generation with the system instruction set.
func (c *GeminiClientImpl) Generate(ctx context.Context, prompt, system string, opts types.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", &types.ProviderError{Provider: "gemini", Model: model, Err: err}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &types.ProviderError{Provider: "gemini", Model: model, Err: types.ErrEmptyResponse}
	}
	return text, nil
}
