// Package server exposes investigations over REST and WebSocket, plus
// Prometheus metrics and a gRPC health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/cache"
	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/db"
	"github.com/kubilitics/kubilitics-intel/internal/llm/adapter"
	"github.com/kubilitics/kubilitics-intel/internal/middleware"
	"github.com/kubilitics/kubilitics-intel/internal/orchestrator"
)

const shutdownTimeout = 10 * time.Second

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Server serves the investigation API.
type Server struct {
	cfg  *config.Config
	orch *orchestrator.Orchestrator

	archive  *db.Archive
	cache    cache.Cache
	llm      *adapter.Router
	checks   map[string]Check
	auditLog audit.Logger
	logger   *zap.Logger

	limiter   *middleware.RateLimiter
	router    *mux.Router
	health    *health.Server
	startedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithArchive enables the archive endpoints and the database health check.
func WithArchive(a *db.Archive) Option { return func(s *Server) { s.archive = a } }

// WithCache adds the response cache to the detailed health report.
func WithCache(c cache.Cache) Option { return func(s *Server) { s.cache = c } }

// WithLLM adds the model router to the detailed health report.
func WithLLM(r *adapter.Router) Option { return func(s *Server) { s.llm = r } }

// WithHealthCheck registers an extra named dependency check.
func WithHealthCheck(name string, c Check) Option {
	return func(s *Server) { s.checks[name] = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithAuditLogger(a audit.Logger) Option {
	return func(s *Server) {
		if a != nil {
			s.auditLog = a
		}
	}
}

// NewServer builds the router. Nothing listens until Run.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}

	s := &Server{
		cfg:       cfg,
		orch:      orch,
		checks:    make(map[string]Check),
		auditLog:  audit.NewNopLogger(),
		logger:    zap.NewNop(),
		health:    health.NewServer(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", s.handleHealthDetailed).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/ws/investigations/{id}", s.handleInvestigationStream).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	// One route per path: mux loses a method mismatch when a later route on
	// the subrouter fails to match, so these dispatch on method themselves.
	api.Handle("/investigations", byMethod{
		http.MethodGet:  s.handleListInvestigations,
		http.MethodPost: s.handleCreateInvestigation,
	})
	api.Handle("/investigations/{id}", byMethod{
		http.MethodGet:    s.handleGetInvestigation,
		http.MethodDelete: s.handleDeleteInvestigation,
	})
	api.Handle("/investigations/{id}/respond", byMethod{http.MethodPost: s.handleRespond})
	api.Handle("/investigations/{id}/report", byMethod{
		http.MethodGet:  s.handleReport,
		http.MethodPost: s.handleReport,
	})
	api.Handle("/investigations/{id}/summary", byMethod{http.MethodGet: s.handleSummary})

	api.Handle("/archive/sessions", byMethod{http.MethodGet: s.handleArchivedSessions})
	api.Handle("/archive/reports/{id}", byMethod{http.MethodGet: s.handleArchivedReport})
	return r
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins(s.cfg.Server.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(s.router)
}

// Run serves HTTP, the gRPC health service and the orchestrator janitor
// until ctx is done, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	var grpcServer *grpc.Server
	if s.cfg.Server.GRPCPort > 0 {
		grpcServer = grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
		grpc_health_v1.RegisterHealthServer(grpcServer, s.health)
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.GRPCPort)
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			s.logger.Info("grpc health service listening", zap.String("addr", addr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.orch.Run(gctx)
		return nil
	})

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		_ = s.auditLog.Log(shutdownCtx, audit.NewEvent(audit.EventServerShutdown).
			WithResult(audit.ResultSuccess).
			WithDuration(time.Since(s.startedAt)))
		return err
	})

	_ = s.auditLog.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithMetadata("addr", httpServer.Addr).
		WithMetadata("grpc_port", s.cfg.Server.GRPCPort))

	return g.Wait()
}

func allowedOrigins(configured []string) []string {
	if len(configured) == 0 {
		return defaultOrigins
	}
	return configured
}
