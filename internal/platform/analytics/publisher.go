// Package analytics provides a fire-and-forget NATS publisher for mapping
// and resolution events.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectMapperResolved = "analytics.mapper.resolved"
	SubjectSourceResolved = "analytics.mapper.source_resolved"
)

// Event is the canonical envelope sent to all analytics.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	Subject    string         `json:"subject,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes analytics events to NATS JetStream, or to core NATS
// when no stream is configured.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	nc  *nats.Conn
	log *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub (useful in tests and services without NATS).
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// NewCore publishes on plain NATS subjects without JetStream acks.
func NewCore(nc *nats.Conn, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{nc: nc, log: log}
}

// Publish sends an analytics event asynchronously (fire-and-forget).
// Failures are logged as warnings and never surface to the caller.
// The publisher is safe to call with a nil receiver.
func (p *Publisher) Publish(subject, eventName, entity string, props map[string]any) {
	if p == nil || (p.js == nil && p.nc == nil) {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		Subject:    entity,
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("analytics: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if p.js != nil {
		if _, err := p.js.PublishAsync(subject, data); err != nil {
			p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
		}
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
