package models

import "time"

// Delivery status lifecycle. A row is created pending, transitions to
// sent or failed synchronously when the provider call returns, and may
// later move to delivered or read when the provider's webhook confirms
// receipt.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// DeliveryAttempt is one persisted record of trying to send a
// notification over one channel. Same-channel resends increment
// RetryCount on the existing row; falling back to a different channel
// opens a new row.
type DeliveryAttempt struct {
	ID            string           `json:"id"`
	RecipientID   string           `json:"recipient_id"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	Channel       string           `json:"channel"`
	Type          NotificationType `json:"notification_type"`
	Status        string           `json:"status"`
	RetryCount    int              `json:"retry_count"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	ProviderMeta  map[string]string `json:"provider_meta,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
	NextRetryAt   *time.Time       `json:"next_retry_at,omitempty"`
}

// Terminal reports whether the attempt can no longer change state on
// its own. Failed rows stay non-terminal while a retry is scheduled.
func (a *DeliveryAttempt) Terminal() bool {
	switch a.Status {
	case StatusDelivered, StatusRead:
		return true
	case StatusFailed:
		return a.NextRetryAt == nil
	}
	return false
}

// Appointment is the read-only projection of a booking used to render
// notification content. The scheduling system owns the full record.
type Appointment struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	StartsAt  time.Time `json:"starts_at"`
	Treatment string    `json:"treatment,omitempty"`
	Dentist   string    `json:"dentist,omitempty"`
}
