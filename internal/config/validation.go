package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
// It also records whether the LLM backend is usable in LLM.Configured;
// an unconfigured backend is not an error, the service runs degraded.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort),
		})
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: "grpc_port must differ from port",
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("rate_limit_per_minute must be >= 0, got %d", c.Server.RateLimitPerMinute),
		})
	}

	// Validate LLM configuration
	validProviders := map[string]bool{
		"gemini": true,
		"openai": true,
		"ollama": true,
		"custom": true,
	}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: gemini, openai, ollama, custom", c.LLM.Provider),
		})
	}

	switch c.LLM.Provider {
	case "gemini", "openai":
		c.LLM.Configured = c.LLM.APIKey != ""
	case "ollama":
		// No key needed
		c.LLM.Configured = true
		if c.LLM.BaseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.base_url",
				Message: "base_url is required for the ollama provider",
			})
		}
	case "custom":
		c.LLM.Configured = c.LLM.BaseURL != ""
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.base_url",
				Message: fmt.Sprintf("invalid base_url '%s'", c.LLM.BaseURL),
			})
		}
	}

	if c.LLM.Model == "" {
		errs = append(errs, &ValidationError{
			Field:   "llm.model",
			Message: "model is required",
		})
	}

	if c.LLM.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "llm.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.LLM.TimeoutSeconds),
		})
	}

	if c.LLM.MaxConcurrent < 1 {
		errs = append(errs, &ValidationError{
			Field:   "llm.max_concurrent",
			Message: fmt.Sprintf("max_concurrent must be at least 1, got %d", c.LLM.MaxConcurrent),
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, &ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("temperature must be between 0 and 2, got %.2f", c.LLM.Temperature),
		})
	}

	if c.LLM.MaxOutputTokens < 1 {
		errs = append(errs, &ValidationError{
			Field:   "llm.max_output_tokens",
			Message: fmt.Sprintf("max_output_tokens must be at least 1, got %d", c.LLM.MaxOutputTokens),
		})
	}

	knownStages := make(map[string]bool, len(StageNames))
	for _, s := range StageNames {
		knownStages[s] = true
	}
	for stage, model := range c.LLM.StageModels {
		if !knownStages[stage] {
			errs = append(errs, &ValidationError{
				Field:   "llm.stage_models",
				Message: fmt.Sprintf("unknown stage '%s', must be one of: %s", stage, strings.Join(StageNames, ", ")),
			})
		} else if model == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.stage_models." + stage,
				Message: "model cannot be empty",
			})
		}
	}

	// Validate memory configuration
	if c.Memory.MaxTokens < 1 {
		errs = append(errs, &ValidationError{
			Field:   "memory.max_tokens",
			Message: fmt.Sprintf("max_tokens must be at least 1, got %d", c.Memory.MaxTokens),
		})
	}

	validTokenizers := map[string]bool{
		"words":    true,
		"tiktoken": true,
	}
	if !validTokenizers[c.Memory.Tokenizer] {
		errs = append(errs, &ValidationError{
			Field:   "memory.tokenizer",
			Message: fmt.Sprintf("invalid tokenizer '%s', must be one of: words, tiktoken", c.Memory.Tokenizer),
		})
	}

	if c.Memory.CleanupMaxAgeHours < 0 {
		errs = append(errs, &ValidationError{
			Field:   "memory.cleanup_max_age_hours",
			Message: fmt.Sprintf("cleanup_max_age_hours cannot be negative, got %d", c.Memory.CleanupMaxAgeHours),
		})
	}

	if c.Memory.CleanupIntervalMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "memory.cleanup_interval_minutes",
			Message: fmt.Sprintf("cleanup_interval_minutes must be at least 1, got %d", c.Memory.CleanupIntervalMinutes),
		})
	}

	// Validate sessions configuration
	if c.Sessions.MaxIdleHours < 0 {
		errs = append(errs, &ValidationError{
			Field:   "sessions.max_idle_hours",
			Message: fmt.Sprintf("max_idle_hours cannot be negative, got %d", c.Sessions.MaxIdleHours),
		})
	}

	// Validate database configuration
	if c.Database.Enabled && c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required when the database is enabled",
		})
	}

	// Validate cache configuration
	validBackends := map[string]bool{
		"memory": true,
		"redis":  true,
	}
	if !validBackends[c.Cache.Backend] {
		errs = append(errs, &ValidationError{
			Field:   "cache.backend",
			Message: fmt.Sprintf("invalid cache backend '%s', must be one of: memory, redis", c.Cache.Backend),
		})
	}

	if c.Cache.EnableCaching && c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "cache.redis_url",
			Message: "redis_url is required when the cache backend is redis",
		})
	}

	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds cannot be negative, got %d", c.Cache.TTLSeconds),
		})
	}

	// Validate events configuration
	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		errs = append(errs, &ValidationError{
			Field:   "events.subject_prefix",
			Message: "subject_prefix is required when nats_url is set",
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	if c.Logging.AuditLogPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "logging.audit_log_path",
			Message: "audit_log_path is required",
		})
	}

	return errs
}
