package audit

import (
	"context"
	"time"
)

type nopLogger struct{}

// NewNopLogger returns a Logger that discards every event.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error                                     { return nil }
func (nopLogger) LogSessionCreated(context.Context, string, string) error               { return nil }
func (nopLogger) LogSessionCompleted(context.Context, string, time.Duration, int) error { return nil }
func (nopLogger) LogSessionFailed(context.Context, string, error) error                 { return nil }
func (nopLogger) LogStageFallback(context.Context, string, string, error) error         { return nil }
func (nopLogger) LogReportGenerated(context.Context, string, int, float64) error        { return nil }
func (nopLogger) Sync() error                                                           { return nil }
func (nopLogger) Close() error                                                          { return nil }
