package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend and speaks in event envelopes.
type MQ struct {
	backend Backend
	now     func() time.Time
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend, now: time.Now}
}

// PublishEvent wraps payload in an Envelope and sends it to channel.
// The event type is also set as the event_type attribute so consumers can
// filter without decoding the body.
func (m *MQ) PublishEvent(ctx context.Context, channel, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(Envelope{
		Type:       eventType,
		OccurredAt: m.now().UTC(),
		Payload:    body,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", eventType, err)
	}

	if _, err := m.backend.Publish(ctx, channel, data, map[string]string{AttrEventType: eventType}); err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, channel, err)
	}
	return nil
}

// SubscribeEvents consumes channel and hands each decoded envelope to handler.
// Undecodable messages are rejected through the backend's nack path.
func (m *MQ) SubscribeEvents(ctx context.Context, channel string, handler func(ctx context.Context, env Envelope) error) error {
	return m.backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return fmt.Errorf("decode envelope %s: %w", msg.ID, err)
		}
		return handler(ctx, env)
	})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
