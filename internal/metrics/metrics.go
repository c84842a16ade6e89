package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Intelligence service metrics
var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_sessions_started_total",
			Help: "Total number of investigations started",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_sessions_finished_total",
			Help: "Total number of investigations that reached a terminal status",
		},
		[]string{"status"}, // COMPLETED / FAILED
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_intel_active_sessions",
			Help: "Current number of sessions held in memory",
		},
	)

	UserTurns = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_intel_user_turns",
			Help:    "User turns recorded when the question loop stops",
			Buckets: prometheus.LinearBuckets(1, 2, 10), // 1 to 19
		},
	)

	ReportsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_reports_generated_total",
			Help: "Total number of reports synthesized",
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_intel_stage_duration_seconds",
			Help:    "Stage processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"stage"},
	)

	StageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_stage_fallbacks_total",
			Help: "Total number of times a stage used its deterministic fallback",
		},
		[]string{"stage"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_intel_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	LLMCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_llm_cache_total",
			Help: "LLM response cache lookups",
		},
		[]string{"result"}, // hit / miss
	)

	// Memory metrics
	MemoryCompressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_memory_compressions_total",
			Help: "Total number of evidence context compressions",
		},
	)

	MemoryTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_intel_memory_tokens",
			Help: "Estimated tokens held by the memory manager across sessions",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_intel_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_events_published_total",
			Help: "Total number of lifecycle events published to the bus",
		},
		[]string{"type", "status"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_intel_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limit",
		},
	)
)
