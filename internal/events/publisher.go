// Package events emits delivery lifecycle events for downstream
// reporting. Publishing is best-effort: a broken stream never fails a
// dispatch.
package events

import (
	"context"
	"time"

	"github.com/example/clinic-notify/internal/models"
)

// Event type constants.
const (
	EventCreated        = "created"
	EventSent           = "sent"
	EventFailed         = "failed"
	EventRetryScheduled = "retry_scheduled"
	EventRead           = "read"
	EventExhausted      = "exhausted"
)

// StatusEvent represents one lifecycle transition of a delivery attempt.
type StatusEvent struct {
	AttemptID   string                  `json:"attempt_id"`
	RecipientID string                  `json:"recipient_id"`
	Channel     string                  `json:"channel"`
	Type        models.NotificationType `json:"notification_type"`
	EventType   string                  `json:"event_type"`
	RetryCount  int                     `json:"retry_count,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// Publisher is the outbound status stream contract.
type Publisher interface {
	Publish(ctx context.Context, event StatusEvent) error
	Close() error
}

// NopPublisher discards every event. Used when no brokers are
// configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, StatusEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
