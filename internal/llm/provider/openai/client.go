package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
)

// Package openai talks to the OpenAI chat completions API and to any
// endpoint that speaks the same protocol (Ollama's /v1, vLLM, LocalAI,
// LM Studio). Only the non-streaming, tool-free call is needed.

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 120 * time.Second
)

// OpenAIClientImpl implements types.Generator for OpenAI-compatible APIs.
type OpenAIClientImpl struct {
	name       string
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*OpenAIClientImpl)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *OpenAIClientImpl) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithProviderName sets the name used in errors and metrics (ollama, custom).
func WithProviderName(name string) Option {
	return func(c *OpenAIClientImpl) { c.name = name }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *OpenAIClientImpl) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) Option {
	return func(c *OpenAIClientImpl) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIClient creates a new client. The API key is mandatory only for
// the public OpenAI endpoint; local endpoints usually ignore it.
func NewOpenAIClient(apiKey, model string, opts ...Option) (*OpenAIClientImpl, error) {
	if model == "" {
		model = DefaultModel
	}

	c := &OpenAIClientImpl{
		name:      "openai",
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		baseURL:   DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" && c.baseURL == DefaultBaseURL {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	return c, nil
}

// Name returns the provider name.
func (c *OpenAIClientImpl) Name() string { return c.name }

// Generate sends the system instruction and prompt as a two-message chat.
func (c *OpenAIClientImpl) Generate(ctx context.Context, prompt, system string, opts types.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openAIMessage, 0, 2)
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	request := openAIChatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		request.Temperature = &t
	}

	response, status, err := c.makeRequest(ctx, "/chat/completions", request)
	if err != nil {
		return "", &types.ProviderError{Provider: c.name, Model: model, StatusCode: status, Err: err}
	}

	var chatResponse openAIChatResponse
	if err := json.Unmarshal(response, &chatResponse); err != nil {
		return "", &types.ProviderError{Provider: c.name, Model: model, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(chatResponse.Choices) == 0 || strings.TrimSpace(chatResponse.Choices[0].Message.Content) == "" {
		return "", &types.ProviderError{Provider: c.name, Model: model, Err: types.ErrEmptyResponse}
	}

	return chatResponse.Choices[0].Message.Content, nil
}

// makeRequest makes an HTTP request to the API and returns the body and
// HTTP status.
func (c *OpenAIClientImpl) makeRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		if json.Unmarshal(responseBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, resp.StatusCode, fmt.Errorf("API error: %s", apiErr.Error.Message)
		}
		return nil, resp.StatusCode, fmt.Errorf("API error: %s", string(responseBody))
	}

	return responseBody, resp.StatusCode, nil
}
