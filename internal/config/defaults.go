package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.GRPCPort = 0
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	cfg.Server.RateLimitPerMinute = 120

	// LLM defaults
	cfg.LLM.Provider = "gemini"
	cfg.LLM.Model = "gemini-2.5-pro"
	cfg.LLM.BaseURL = ""
	cfg.LLM.TimeoutSeconds = 120
	cfg.LLM.MaxConcurrent = 8
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxOutputTokens = 4096
	cfg.LLM.StageModels = map[string]string{}

	// Memory defaults
	cfg.Memory.MaxTokens = 100000
	cfg.Memory.Tokenizer = "words"
	cfg.Memory.CleanupMaxAgeHours = 24
	cfg.Memory.CleanupIntervalMinutes = 60

	// Sessions defaults
	cfg.Sessions.MaxIdleHours = 0 // keep until deleted

	// Database defaults
	cfg.Database.Enabled = false
	cfg.Database.SQLitePath = "data/kubilitics-intel.db"

	// Cache defaults
	cfg.Cache.EnableCaching = false
	cfg.Cache.Backend = "memory"
	cfg.Cache.TTLSeconds = 300
	cfg.Cache.RedisURL = ""

	// Events defaults
	cfg.Events.NATSURL = ""
	cfg.Events.SubjectPrefix = "intel"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"

	return cfg
}
