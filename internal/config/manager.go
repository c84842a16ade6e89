package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("KUBILITICS_INTEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			// A missing file is fine: defaults + env vars
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	m.mu.Lock()
	errs := m.config.Validate()
	m.mu.Unlock()

	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and sends every successfully reloaded
// configuration on the returned channel.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.viper == nil || m.configPath == "" {
		return m.watchChan
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		cfg := *m.Get(ctx)
		select {
		case m.watchChan <- cfg:
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)
	m.viper.SetDefault("llm.max_concurrent", defaults.LLM.MaxConcurrent)
	m.viper.SetDefault("llm.temperature", defaults.LLM.Temperature)
	m.viper.SetDefault("llm.max_output_tokens", defaults.LLM.MaxOutputTokens)
	m.viper.SetDefault("llm.stage_models", defaults.LLM.StageModels)

	// Memory defaults
	m.viper.SetDefault("memory.max_tokens", defaults.Memory.MaxTokens)
	m.viper.SetDefault("memory.tokenizer", defaults.Memory.Tokenizer)
	m.viper.SetDefault("memory.cleanup_max_age_hours", defaults.Memory.CleanupMaxAgeHours)
	m.viper.SetDefault("memory.cleanup_interval_minutes", defaults.Memory.CleanupIntervalMinutes)

	// Sessions defaults
	m.viper.SetDefault("sessions.max_idle_hours", defaults.Sessions.MaxIdleHours)

	// Database defaults
	m.viper.SetDefault("database.enabled", defaults.Database.Enabled)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Cache defaults
	m.viper.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	m.viper.SetDefault("cache.backend", defaults.Cache.Backend)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("cache.redis_url", defaults.Cache.RedisURL)

	// Events defaults
	m.viper.SetDefault("events.nats_url", defaults.Events.NATSURL)
	m.viper.SetDefault("events.subject_prefix", defaults.Events.SubjectPrefix)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")

	// LLM
	cfg.LLM.Provider = strings.ToLower(m.viper.GetString("llm.provider"))
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.TimeoutSeconds = m.viper.GetInt("llm.timeout_seconds")
	cfg.LLM.MaxConcurrent = m.viper.GetInt("llm.max_concurrent")
	cfg.LLM.Temperature = m.viper.GetFloat64("llm.temperature")
	cfg.LLM.MaxOutputTokens = m.viper.GetInt("llm.max_output_tokens")
	cfg.LLM.StageModels = m.viper.GetStringMapString("llm.stage_models")

	// Memory
	cfg.Memory.MaxTokens = m.viper.GetInt("memory.max_tokens")
	cfg.Memory.Tokenizer = m.viper.GetString("memory.tokenizer")
	cfg.Memory.CleanupMaxAgeHours = m.viper.GetInt("memory.cleanup_max_age_hours")
	cfg.Memory.CleanupIntervalMinutes = m.viper.GetInt("memory.cleanup_interval_minutes")

	// Sessions
	cfg.Sessions.MaxIdleHours = m.viper.GetInt("sessions.max_idle_hours")

	// Database
	cfg.Database.Enabled = m.viper.GetBool("database.enabled")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Cache
	cfg.Cache.EnableCaching = m.viper.GetBool("cache.enable_caching")
	cfg.Cache.Backend = m.viper.GetString("cache.backend")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")
	cfg.Cache.RedisURL = m.viper.GetString("cache.redis_url")

	// Events
	cfg.Events.NATSURL = m.viper.GetString("events.nats_url")
	cfg.Events.SubjectPrefix = m.viper.GetString("events.subject_prefix")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")

	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies the well-known provider variables.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiAPIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		cfg.LLM.GeminiAPIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIAPIKey = key
	}

	// The generic key belongs to the default provider and wins over the
	// provider variable for that backend.
	switch cfg.LLM.Provider {
	case "gemini":
		if cfg.LLM.APIKey != "" {
			cfg.LLM.GeminiAPIKey = cfg.LLM.APIKey
		} else {
			cfg.LLM.APIKey = cfg.LLM.GeminiAPIKey
		}
	case "openai":
		if cfg.LLM.APIKey != "" {
			cfg.LLM.OpenAIAPIKey = cfg.LLM.APIKey
		} else {
			cfg.LLM.APIKey = cfg.LLM.OpenAIAPIKey
		}
	case "ollama":
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = "http://localhost:11434/v1"
		}
	}

	// Port from environment - plain PORT as set by most platforms
	if port := os.Getenv("PORT"); port != "" && os.Getenv("KUBILITICS_INTEL_SERVER_PORT") == "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			cfg.Server.Port = p
		}
	}
}
