// Package store persists delivery attempts and resolves recipients.
// DeliveryAttempt rows are the durable interface other systems read
// back: retry counting, read-receipt correlation and reporting all run
// against them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/clinic-notify/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// DeliveryStore is the append-oriented delivery log. Each channel
// attempt is its own row; concurrent appends are safe because rows are
// independent.
type DeliveryStore interface {
	// CreateAttempt inserts a new pending row.
	CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	// GetAttempt loads a single row by id.
	GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error)
	// MarkSent transitions a row to sent and records provider metadata.
	MarkSent(ctx context.Context, id string, sentAt time.Time, providerID string, meta map[string]string) error
	// MarkFailed transitions a row to failed. A non-nil nextRetryAt
	// keeps the row live for the retry sweeper; nil makes it terminal.
	MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error
	// IncrementRetry bumps retry_count for a same-channel resend and
	// returns the new count. Fallbacks to another channel never call
	// this; they create a new row instead.
	IncrementRetry(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) (int, error)
	// MarkLatestSentRead flips the most recent sent attempt for the
	// recipient and channel to read. This correlation is a best-effort
	// heuristic: the provider's read receipt carries no attempt id, so
	// out-of-order receipts across overlapping notifications can tag
	// the wrong row. Returns false when no sent row exists.
	MarkLatestSentRead(ctx context.Context, recipientID, channel string, at time.Time) (bool, error)
	// DueRetries lists failed rows whose next_retry_at has passed.
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error)
	// ListByRecipient returns the newest attempts for a recipient.
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*models.DeliveryAttempt, error)
}

// RecipientDirectory is the read-only lookup onto the patient records
// system, plus the two mutations the LINE webhook needs to maintain
// identity linkage.
type RecipientDirectory interface {
	Lookup(ctx context.Context, recipientID string) (*models.Recipient, error)
	FindByLineUserID(ctx context.Context, lineUserID string) (*models.Recipient, error)
	LinkLineUser(ctx context.Context, recipientID, lineUserID string) error
	UnlinkLineUser(ctx context.Context, lineUserID string) error
}
