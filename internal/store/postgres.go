package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-notify/internal/models"
)

// PostgresStore is the pgx-backed DeliveryStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres store: pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the delivery log schema when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS delivery_attempts (
    id             TEXT PRIMARY KEY,
    recipient_id   TEXT NOT NULL,
    appointment_id TEXT,
    channel        TEXT NOT NULL,
    notification_type TEXT NOT NULL,
    status         TEXT NOT NULL,
    retry_count    INT NOT NULL DEFAULT 0,
    error_message  TEXT,
    provider_meta  JSONB,
    created_at     TIMESTAMPTZ NOT NULL,
    sent_at        TIMESTAMPTZ,
    next_retry_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_recipient
    ON delivery_attempts (recipient_id, channel, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_retry
    ON delivery_attempts (next_retry_at)
    WHERE status = 'failed' AND next_retry_at IS NOT NULL;
`)
	if err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// CreateAttempt implements DeliveryStore.
func (s *PostgresStore) CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	meta, err := encodeMeta(attempt.ProviderMeta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO delivery_attempts
    (id, recipient_id, appointment_id, channel, notification_type, status,
     retry_count, error_message, provider_meta, created_at, sent_at, next_retry_at)
VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, NULLIF($8,''), $9, $10, $11, $12)`,
		attempt.ID, attempt.RecipientID, attempt.AppointmentID, attempt.Channel,
		string(attempt.Type), attempt.Status, attempt.RetryCount, attempt.ErrorMessage,
		meta, attempt.CreatedAt, attempt.SentAt, attempt.NextRetryAt)
	if err != nil {
		return fmt.Errorf("postgres store: create attempt: %w", err)
	}
	return nil
}

// GetAttempt implements DeliveryStore.
func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	row := s.pool.QueryRow(ctx, selectAttempt+` WHERE id = $1`, id)
	return scanAttempt(row)
}

// MarkSent implements DeliveryStore.
func (s *PostgresStore) MarkSent(ctx context.Context, id string, sentAt time.Time, providerID string, meta map[string]string) error {
	merged := map[string]string{}
	for k, v := range meta {
		merged[k] = v
	}
	if providerID != "" {
		merged["provider_message_id"] = providerID
	}
	encoded, err := encodeMeta(merged)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE delivery_attempts
SET status = $2, sent_at = $3, next_retry_at = NULL, error_message = NULL,
    provider_meta = COALESCE(provider_meta, '{}'::jsonb) || COALESCE($4::jsonb, '{}'::jsonb)
WHERE id = $1`,
		id, models.StatusSent, sentAt, encoded)
	if err != nil {
		return fmt.Errorf("postgres store: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed implements DeliveryStore.
func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE delivery_attempts
SET status = $2, error_message = $3, next_retry_at = $4
WHERE id = $1`,
		id, models.StatusFailed, errMsg, nextRetryAt)
	if err != nil {
		return fmt.Errorf("postgres store: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry implements DeliveryStore.
func (s *PostgresStore) IncrementRetry(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
UPDATE delivery_attempts
SET retry_count = retry_count + 1, status = $2, error_message = $3, next_retry_at = $4
WHERE id = $1
RETURNING retry_count`,
		id, models.StatusFailed, errMsg, nextRetryAt).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("postgres store: increment retry: %w", err)
	}
	return count, nil
}

// MarkLatestSentRead implements DeliveryStore. The correlation is the
// best-effort "most recent sent row" heuristic; the provider's read
// receipt carries no attempt reference.
func (s *PostgresStore) MarkLatestSentRead(ctx context.Context, recipientID, channel string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE delivery_attempts
SET status = $4
WHERE id = (
    SELECT id FROM delivery_attempts
    WHERE recipient_id = $1 AND channel = $2 AND status IN ($3, $5)
    ORDER BY created_at DESC
    LIMIT 1
)`,
		recipientID, channel, models.StatusSent, models.StatusRead, models.StatusDelivered)
	if err != nil {
		return false, fmt.Errorf("postgres store: mark read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DueRetries implements DeliveryStore.
func (s *PostgresStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectAttempt+`
WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
ORDER BY next_retry_at
LIMIT $3`,
		models.StatusFailed, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: due retries: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ListByRecipient implements DeliveryStore.
func (s *PostgresStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectAttempt+`
WHERE recipient_id = $1
ORDER BY created_at DESC
LIMIT $2`,
		recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list by recipient: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

const selectAttempt = `
SELECT id, recipient_id, COALESCE(appointment_id, ''), channel, notification_type,
       status, retry_count, COALESCE(error_message, ''), provider_meta,
       created_at, sent_at, next_retry_at
FROM delivery_attempts`

func scanAttempt(row pgx.Row) (*models.DeliveryAttempt, error) {
	var att models.DeliveryAttempt
	var notifType string
	var meta []byte
	err := row.Scan(&att.ID, &att.RecipientID, &att.AppointmentID, &att.Channel,
		&notifType, &att.Status, &att.RetryCount, &att.ErrorMessage, &meta,
		&att.CreatedAt, &att.SentAt, &att.NextRetryAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres store: scan attempt: %w", err)
	}
	att.Type = models.NotificationType(notifType)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &att.ProviderMeta); err != nil {
			return nil, fmt.Errorf("postgres store: decode provider meta: %w", err)
		}
	}
	return &att, nil
}

func scanAttempts(rows pgx.Rows) ([]*models.DeliveryAttempt, error) {
	var out []*models.DeliveryAttempt
	for rows.Next() {
		att, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate attempts: %w", err)
	}
	return out, nil
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("postgres store: encode provider meta: %w", err)
	}
	return encoded, nil
}

// PostgresDirectory resolves recipients from the patients table
// maintained by the booking system. Lookup access is read-only except
// for LINE identity linkage.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory wraps an existing connection pool.
func NewPostgresDirectory(pool *pgxpool.Pool) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("postgres directory: pool is required")
	}
	return &PostgresDirectory{pool: pool}, nil
}

const selectRecipient = `
SELECT id, COALESCE(name, ''), COALESCE(line_user_id, ''), COALESCE(email, ''),
       COALESCE(phone, ''), line_opt_out, email_opt_out, sms_opt_out
FROM patients`

// Lookup implements RecipientDirectory.
func (d *PostgresDirectory) Lookup(ctx context.Context, recipientID string) (*models.Recipient, error) {
	return d.scanOne(d.pool.QueryRow(ctx, selectRecipient+` WHERE id = $1`, recipientID))
}

// FindByLineUserID implements RecipientDirectory.
func (d *PostgresDirectory) FindByLineUserID(ctx context.Context, lineUserID string) (*models.Recipient, error) {
	return d.scanOne(d.pool.QueryRow(ctx, selectRecipient+` WHERE line_user_id = $1`, lineUserID))
}

// LinkLineUser implements RecipientDirectory.
func (d *PostgresDirectory) LinkLineUser(ctx context.Context, recipientID, lineUserID string) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE patients SET line_user_id = $2 WHERE id = $1`, recipientID, lineUserID)
	if err != nil {
		return fmt.Errorf("postgres directory: link line user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnlinkLineUser implements RecipientDirectory.
func (d *PostgresDirectory) UnlinkLineUser(ctx context.Context, lineUserID string) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE patients SET line_user_id = NULL WHERE line_user_id = $1`, lineUserID)
	if err != nil {
		return fmt.Errorf("postgres directory: unlink line user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *PostgresDirectory) scanOne(row pgx.Row) (*models.Recipient, error) {
	var r models.Recipient
	err := row.Scan(&r.ID, &r.Name, &r.LineUserID, &r.Email, &r.Phone,
		&r.LineOptOut, &r.EmailOptOut, &r.SMSOptOut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres directory: scan recipient: %w", err)
	}
	return &r, nil
}
