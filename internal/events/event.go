// Package events fans investigation changes out to live subscribers
// (WebSocket clients) and to an optional NATS bus.
package events

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// Type names what changed.
type Type string

const (
	TypeStatus    Type = "status"
	TypeMessage   Type = "message"
	TypeQuestions Type = "questions"
	TypeReport    Type = "report"
	TypeError     Type = "error"
	TypeDeleted   Type = "deleted"
)

// Event is one change to an investigation.
type Event struct {
	Type      Type             `json:"type"`
	SessionID string           `json:"session_id"`
	Status    session.Status   `json:"status,omitempty"`
	Message   *session.Message `json:"message,omitempty"`
	Questions []string         `json:"questions,omitempty"`
	Data      interface{}      `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Sink receives every event published by the orchestrator.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
func (NopSink) Close() error                         { return nil }
