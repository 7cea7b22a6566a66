package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/clinic-notify/internal/models"
)

// MemoryStore is an in-memory DeliveryStore used in tests and local
// development.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]*models.DeliveryAttempt
	order    []string
}

// NewMemoryStore constructs an empty in-memory delivery log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]*models.DeliveryAttempt),
	}
}

// CreateAttempt implements DeliveryStore.
func (s *MemoryStore) CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.attempts[attempt.ID] = &cp
	s.order = append(s.order, attempt.ID)
	return nil
}

// GetAttempt implements DeliveryStore.
func (s *MemoryStore) GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *att
	return &cp, nil
}

// MarkSent implements DeliveryStore.
func (s *MemoryStore) MarkSent(ctx context.Context, id string, sentAt time.Time, providerID string, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attempts[id]
	if !ok {
		return ErrNotFound
	}
	att.Status = models.StatusSent
	att.SentAt = &sentAt
	att.NextRetryAt = nil
	att.ErrorMessage = ""
	if providerID != "" {
		if att.ProviderMeta == nil {
			att.ProviderMeta = map[string]string{}
		}
		att.ProviderMeta["provider_message_id"] = providerID
	}
	for k, v := range meta {
		if att.ProviderMeta == nil {
			att.ProviderMeta = map[string]string{}
		}
		att.ProviderMeta[k] = v
	}
	return nil
}

// MarkFailed implements DeliveryStore.
func (s *MemoryStore) MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attempts[id]
	if !ok {
		return ErrNotFound
	}
	att.Status = models.StatusFailed
	att.ErrorMessage = errMsg
	att.NextRetryAt = nextRetryAt
	return nil
}

// IncrementRetry implements DeliveryStore.
func (s *MemoryStore) IncrementRetry(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attempts[id]
	if !ok {
		return 0, ErrNotFound
	}
	att.RetryCount++
	att.Status = models.StatusFailed
	att.ErrorMessage = errMsg
	att.NextRetryAt = nextRetryAt
	return att.RetryCount, nil
}

// MarkLatestSentRead implements DeliveryStore.
func (s *MemoryStore) MarkLatestSentRead(ctx context.Context, recipientID, channel string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.DeliveryAttempt
	for _, id := range s.order {
		att := s.attempts[id]
		if att.RecipientID != recipientID || att.Channel != channel {
			continue
		}
		if att.Status != models.StatusSent && att.Status != models.StatusDelivered {
			continue
		}
		if latest == nil || att.CreatedAt.After(latest.CreatedAt) {
			latest = att
		}
	}
	if latest == nil {
		return false, nil
	}
	latest.Status = models.StatusRead
	return true, nil
}

// DueRetries implements DeliveryStore.
func (s *MemoryStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.DeliveryAttempt
	for _, id := range s.order {
		att := s.attempts[id]
		if att.Status != models.StatusFailed || att.NextRetryAt == nil {
			continue
		}
		if att.NextRetryAt.After(now) {
			continue
		}
		cp := *att
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListByRecipient implements DeliveryStore.
func (s *MemoryStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*models.DeliveryAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeliveryAttempt
	for i := len(s.order) - 1; i >= 0; i-- {
		att := s.attempts[s.order[i]]
		if att.RecipientID != recipientID {
			continue
		}
		cp := *att
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MemoryDirectory is an in-memory RecipientDirectory for tests and
// local development.
type MemoryDirectory struct {
	mu         sync.RWMutex
	recipients map[string]*models.Recipient
}

// NewMemoryDirectory seeds a directory with the supplied recipients.
func NewMemoryDirectory(recipients ...*models.Recipient) *MemoryDirectory {
	d := &MemoryDirectory{recipients: make(map[string]*models.Recipient)}
	for _, r := range recipients {
		cp := *r
		d.recipients[r.ID] = &cp
	}
	return d
}

// Lookup implements RecipientDirectory.
func (d *MemoryDirectory) Lookup(ctx context.Context, recipientID string) (*models.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.recipients[recipientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// FindByLineUserID implements RecipientDirectory.
func (d *MemoryDirectory) FindByLineUserID(ctx context.Context, lineUserID string) (*models.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.recipients {
		if strings.EqualFold(r.LineUserID, lineUserID) && r.LineUserID != "" {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// LinkLineUser implements RecipientDirectory.
func (d *MemoryDirectory) LinkLineUser(ctx context.Context, recipientID, lineUserID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.recipients[recipientID]
	if !ok {
		return ErrNotFound
	}
	r.LineUserID = lineUserID
	return nil
}

// UnlinkLineUser implements RecipientDirectory.
func (d *MemoryDirectory) UnlinkLineUser(ctx context.Context, lineUserID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.recipients {
		if r.LineUserID == lineUserID {
			r.LineUserID = ""
			return nil
		}
	}
	return ErrNotFound
}
