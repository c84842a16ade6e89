package config

import "context"

// Package config provides configuration management for kubilitics-intel.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (KUBILITICS_INTEL_* prefix, plus provider keys)
//   2. .env files loaded with LoadDotEnv
//   3. YAML config file
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host, port: REST + WebSocket listener (default 0.0.0.0:8000)
//      - grpc_port: gRPC health service (0 disables)
//      - allowed_origins: CORS and WebSocket origins
//      - rate_limit_per_minute: per-client request cap (0 disables)
//
//   2. LLM
//      - provider: "gemini" | "openai" | "ollama" | "custom"
//      - api_key, model, base_url
//      - timeout_seconds: per-call deadline
//      - max_concurrent: in-flight model calls across all sessions
//      - temperature, max_output_tokens
//      - stage_models: stage name → model, routed by model name
//
//   3. Memory
//      - max_tokens: evidence budget per session before compression
//      - tokenizer: "words" | "tiktoken"
//      - cleanup_max_age_hours, cleanup_interval_minutes
//
//   4. Sessions
//      - max_idle_hours: prune idle sessions (0 disables)
//
//   5. Database
//      - enabled, sqlite_path: session and report archive
//
//   6. Cache
//      - enable_caching, backend ("memory" | "redis"), ttl_seconds, redis_url
//
//   7. Events
//      - nats_url (empty disables), subject_prefix
//
//   8. Logging
//      - level, format, app_log_path, audit_log_path

// Stage names accepted as keys of llm.stage_models.
const (
	StageQueryAnalysis = "query_analysis"
	StagePlanning      = "planning"
	StageRetrieval     = "retrieval"
	StagePivot         = "pivot"
	StageSynthesis     = "synthesis"
)

// StageNames lists every stage in pipeline order.
var StageNames = []string{StageQueryAnalysis, StagePlanning, StageRetrieval, StagePivot, StageSynthesis}

// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Host     string
		Port     int
		GRPCPort int
		// AllowedOrigins is the CORS / WebSocket origin allow-list.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
		// RateLimitPerMinute caps requests per client on the investigation
		// API. 0 disables limiting.
		RateLimitPerMinute int
	}

	LLM struct {
		Provider        string
		APIKey          string
		Model           string
		BaseURL         string
		TimeoutSeconds  int
		MaxConcurrent   int
		Temperature     float64
		MaxOutputTokens int
		StageModels     map[string]string

		// Per-backend keys so stage models can route to a backend other
		// than the default one.
		GeminiAPIKey string
		OpenAIAPIKey string

		// Configured is set by Validate; false means degraded mode where
		// every stage runs its deterministic fallback.
		Configured bool
	}

	Memory struct {
		MaxTokens              int
		Tokenizer              string
		CleanupMaxAgeHours     int
		CleanupIntervalMinutes int
	}

	Sessions struct {
		MaxIdleHours int
	}

	Database struct {
		Enabled    bool
		SQLitePath string
	}

	Cache struct {
		EnableCaching bool
		Backend       string
		TTLSeconds    int
		RedisURL      string
	}

	Events struct {
		NATSURL       string
		SubjectPrefix string
	}

	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
	}
}

// ModelFor returns the model configured for stage, or the default model.
func (c *Config) ModelFor(stage string) string {
	if m := c.LLM.StageModels[stage]; m != "" {
		return m
	}
	return c.LLM.Model
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager. An empty path means
// defaults and environment only.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("config.yaml")
}
