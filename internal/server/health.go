package server

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

type componentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleHealthDetailed reports every dependency. The overall status is
// "degraded" when any component is unhealthy or the model is not
// configured; the service still answers in degraded mode.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]componentHealth{}
	overall := "healthy"
	record := func(name string, err error) {
		if err != nil {
			components[name] = componentHealth{Status: "unhealthy", Detail: err.Error()}
			overall = "degraded"
			return
		}
		components[name] = componentHealth{Status: "healthy"}
	}

	if s.archive != nil {
		record("database", s.archive.Store().Ping(ctx))
	} else {
		components["database"] = componentHealth{Status: "disabled"}
	}
	if s.cache != nil {
		record("cache", s.cache.Ping(ctx))
	} else {
		components["cache"] = componentHealth{Status: "disabled"}
	}
	for name, check := range s.checks {
		record(name, check(ctx))
	}

	switch {
	case s.llm != nil && s.llm.Configured():
		components["llm"] = componentHealth{Status: "healthy", Detail: string(s.llm.Provider())}
	default:
		components["llm"] = componentHealth{Status: "degraded", Detail: "no provider configured; stages use fallbacks"}
		overall = "degraded"
	}

	if mem := s.orch.Memory(); mem != nil && mem.Ready() {
		components["memory"] = componentHealth{Status: "healthy"}
	} else {
		components["memory"] = componentHealth{Status: "disabled"}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          overall,
		"components":      components,
		"active_sessions": len(s.orch.List()),
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// handleReady fails while the archive database is unreachable; everything
// else degrades instead of blocking traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.archive.Store().Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
