package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Session lifecycle
	LogSessionCreated(ctx context.Context, sessionID, query string) error
	LogSessionCompleted(ctx context.Context, sessionID string, duration time.Duration, evidenceCount int) error
	LogSessionFailed(ctx context.Context, sessionID string, err error) error

	// Pipeline
	LogStageFallback(ctx context.Context, sessionID, stage string, cause error) error
	LogReportGenerated(ctx context.Context, sessionID string, findings int, confidence float64) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Recorder receives every flushed audit event, e.g. to mirror it into a database.
type Recorder interface {
	RecordAuditEvent(ctx context.Context, event *Event) error
}

// Config controls the rotating audit file. MaxSize is in megabytes and
// MaxAge in days.
type Config struct {
	AuditLogPath string
	MaxSize      int
	MaxBackups   int
	MaxAge       int
	Compress     bool

	// Recorder, if set, also receives every flushed event.
	Recorder Recorder
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	auditLogger *zap.Logger
	appLogger   *zap.Logger
	recorder    Recorder
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives internal errors
// (marshal failures, recorder errors) and may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit log is append-only and always INFO level
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		auditLogger: zap.New(auditCore),
		appLogger:   appLogger.Named("audit"),
		recorder:    config.Recorder,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)

		if l.recorder != nil {
			if err := l.recorder.RecordAuditEvent(context.Background(), event); err != nil {
				l.appLogger.Warn("failed to record audit event",
					zap.Error(err),
					zap.String("event_type", string(event.EventType)),
				)
			}
		}
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogSessionCreated logs when an investigation session is opened
func (l *auditLogger) LogSessionCreated(ctx context.Context, sessionID, query string) error {
	event := NewEvent(EventSessionCreated).
		WithAction("create").
		WithSession(sessionID).
		WithResult(ResultSuccess).
		WithMetadata("query_length", len(query)).
		WithDescription(fmt.Sprintf("Investigation %s created", sessionID))

	return l.Log(ctx, event)
}

// LogSessionCompleted logs when the question loop finishes
func (l *auditLogger) LogSessionCompleted(ctx context.Context, sessionID string, duration time.Duration, evidenceCount int) error {
	event := NewEvent(EventSessionCompleted).
		WithAction("complete").
		WithSession(sessionID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("evidence_count", evidenceCount).
		WithDescription(fmt.Sprintf("Investigation %s completed", sessionID))

	return l.Log(ctx, event)
}

// LogSessionFailed logs when the opening chain fails
func (l *auditLogger) LogSessionFailed(ctx context.Context, sessionID string, err error) error {
	event := NewEvent(EventSessionFailed).
		WithAction("fail").
		WithSession(sessionID).
		WithError(err, "pipeline_error").
		WithDescription(fmt.Sprintf("Investigation %s failed", sessionID))

	return l.Log(ctx, event)
}

// LogStageFallback logs when a stage degrades to its deterministic fallback
func (l *auditLogger) LogStageFallback(ctx context.Context, sessionID, stage string, cause error) error {
	event := NewEvent(EventStageFallback).
		WithCorrelationID(sessionID).
		WithResource(stage, "stage").
		WithAction("fallback").
		WithResult(ResultDegraded).
		WithDescription(fmt.Sprintf("Stage %s fell back for %s", stage, sessionID))
	if cause != nil {
		event.Error = cause.Error()
		event.ErrorCode = "stage_fallback"
	}

	return l.Log(ctx, event)
}

// LogReportGenerated logs every synthesized report
func (l *auditLogger) LogReportGenerated(ctx context.Context, sessionID string, findings int, confidence float64) error {
	event := NewEvent(EventReportGenerated).
		WithAction("report").
		WithSession(sessionID).
		WithResult(ResultSuccess).
		WithMetadata("findings", findings).
		WithMetadata("confidence_score", confidence).
		WithDescription(fmt.Sprintf("Report generated for %s", sessionID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})

	return l.Sync()
}
