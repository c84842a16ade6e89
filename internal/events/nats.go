package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/metrics"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "intel"

// NATSPublisher publishes events to {prefix}.session.{type}.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("kubilitics-intel"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: normalizePrefix(prefix), logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, t Type) string {
	return normalizePrefix(prefix) + ".session." + string(t)
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

// Publish sends ev as JSON. The context is only checked before sending;
// core NATS publishes are fire-and-forget.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := Subject(p.prefix, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}

// Connected reports whether the connection is currently up.
func (p *NATSPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
