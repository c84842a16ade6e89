package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kubilitics/kubilitics-intel/internal/llm/types"
)

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		model     string
		opts      []Option
		wantError bool
	}{
		{
			name:      "Valid configuration",
			apiKey:    "sk-test123",
			model:     "gpt-4o",
			wantError: false,
		},
		{
			name:      "Empty API key",
			apiKey:    "",
			model:     "gpt-4o",
			wantError: true,
		},
		{
			name:      "Empty API key on local endpoint",
			apiKey:    "",
			model:     "llama3",
			opts:      []Option{WithBaseURL("http://localhost:11434/v1"), WithProviderName("ollama")},
			wantError: false,
		},
		{
			name:      "Default model",
			apiKey:    "sk-test123",
			model:     "",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenAIClient(tt.apiKey, tt.model, tt.opts...)

			if tt.wantError && err == nil {
				t.Errorf("NewOpenAIClient() expected error but got none")
			}

			if !tt.wantError && err != nil {
				t.Errorf("NewOpenAIClient() unexpected error: %v", err)
			}

			if !tt.wantError && client == nil {
				t.Errorf("NewOpenAIClient() returned nil client")
			}

			if !tt.wantError && tt.model == "" {
				if client.model != DefaultModel {
					t.Errorf("Expected default model %s, got %s", DefaultModel, client.model)
				}
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	var got openAIChatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("sk-test", "gpt-4o", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}

	text, err := client.Generate(context.Background(), "analyze this", "you are an analyst", types.Options{Model: "gpt-4-turbo", Temperature: 0.3, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("unexpected text %q", text)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if got.Model != "gpt-4-turbo" {
		t.Errorf("expected model override, got %s", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "analyze this" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
	if got.MaxTokens != 100 {
		t.Errorf("expected max_tokens 100, got %d", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", got.Temperature)
	}
}

func TestGenerateProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"quota exceeded","type":"rate_limit"}}`, http.StatusTooManyRequests},
		{"no choices", http.StatusOK, `{"id":"x","choices":[]}`, 0},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, 0},
		{"garbage", http.StatusOK, `not json`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, _ := NewOpenAIClient("sk-test", "gpt-4o", WithBaseURL(srv.URL))
			_, err := client.Generate(context.Background(), "p", "", types.Options{})

			var pe *types.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if pe.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, pe.StatusCode)
			}
			if pe.Provider != "openai" {
				t.Errorf("expected provider openai, got %s", pe.Provider)
			}
		})
	}
}

func TestGenerateWithoutSystemOmitsSystemMessage(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no auth header for keyless endpoint")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	client, _ := NewOpenAIClient("", "llama3", WithBaseURL(srv.URL), WithProviderName("ollama"))
	if _, err := client.Generate(context.Background(), "p", "", types.Options{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
	if got.Temperature != nil {
		t.Errorf("expected temperature to be omitted")
	}
}
