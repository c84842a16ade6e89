package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/audit"
	"github.com/kubilitics/kubilitics-intel/internal/cache"
	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/db"
	"github.com/kubilitics/kubilitics-intel/internal/events"
	"github.com/kubilitics/kubilitics-intel/internal/llm/adapter"
	"github.com/kubilitics/kubilitics-intel/internal/logging"
	"github.com/kubilitics/kubilitics-intel/internal/memory"
	"github.com/kubilitics/kubilitics-intel/internal/orchestrator"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// app holds every wired component and knows how to release them.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	auditLog audit.Logger
	archive  *db.Archive
	cache    cache.Cache
	router   *adapter.Router
	nats     *events.NATSPublisher
	orch     *orchestrator.Orchestrator

	closers []func() error
}

func loadConfig(ctx context.Context, g *globalFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, err
	}
	mgr, err := config.NewConfigManager(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, err
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}
	cfg := mgr.Get(ctx)
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

// newApp wires logging, audit, archive, cache, model router, event bus,
// memory and the orchestrator. quiet drops console logging so an
// interactive session owns the terminal.
func newApp(ctx context.Context, cfg *config.Config, quiet bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.AppLogPath = cfg.Logging.AppLogPath
	logCfg.Quiet = quiet
	if a.logger, err = logging.New(logCfg); err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a.closers = append(a.closers, func() error { _ = a.logger.Sync(); return nil })

	if cfg.Database.Enabled {
		store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		a.archive = db.NewArchive(store)
		a.closers = append(a.closers, store.Close)
	}

	auditCfg := audit.DefaultConfig()
	if cfg.Logging.AuditLogPath != "" {
		auditCfg.AuditLogPath = cfg.Logging.AuditLogPath
	}
	if a.archive != nil {
		auditCfg.Recorder = a.archive
	}
	if a.auditLog, err = audit.NewLogger(auditCfg, a.logger); err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	// Registered after the archive so pending audit events flush first.
	a.closers = append(a.closers, a.auditLog.Close)

	var routerOpts []adapter.Option
	routerOpts = append(routerOpts, adapter.WithLogger(a.logger))
	if cfg.Cache.EnableCaching {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		if a.cache, err = cache.New(ctx, cache.Config{Backend: cfg.Cache.Backend, TTL: ttl, RedisURL: cfg.Cache.RedisURL}); err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		a.closers = append(a.closers, a.cache.Close)
		routerOpts = append(routerOpts, adapter.WithCache(a.cache, ttl))
	}

	if a.router, err = adapter.NewRouter(ctx, adapter.ConfigFrom(cfg), routerOpts...); err != nil {
		return nil, fmt.Errorf("failed to create model router: %w", err)
	}
	if !a.router.Configured() {
		a.logger.Warn("no LLM provider configured; running in degraded mode")
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.ConfigFrom(cfg)),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithAuditLogger(a.auditLog),
		orchestrator.WithMemory(memory.NewManager(
			memory.WithMaxTokens(cfg.Memory.MaxTokens),
			memory.WithTokenizer(memory.NewTokenizer(cfg.Memory.Tokenizer)),
			memory.WithLogger(a.logger))),
	}
	if cfg.Events.NATSURL != "" {
		if a.nats, err = events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, a.logger); err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithSink(a.nats))
	}

	storeOpts := []session.StoreOption{session.WithLogger(a.logger)}
	if a.archive != nil {
		storeOpts = append(storeOpts, session.WithArchiver(a.archive))
		orchOpts = append(orchOpts, orchestrator.WithReportArchiver(a.archive))
	}
	store := session.NewStore(a.auditLog, storeOpts...)

	// The orchestrator closes the NATS sink.
	a.orch = orchestrator.New(store, a.router, orchOpts...)
	a.closers = append(a.closers, a.orch.Close)

	_ = a.auditLog.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithResult(audit.ResultSuccess).
		WithMetadata("llm_provider", cfg.LLM.Provider).
		WithMetadata("llm_configured", a.router.Configured()).
		WithMetadata("database_enabled", cfg.Database.Enabled))
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
