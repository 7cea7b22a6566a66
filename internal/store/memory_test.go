package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/clinic-notify/internal/models"
	"github.com/example/clinic-notify/internal/store"
)

func newAttempt(id, recipientID, channel string) *models.DeliveryAttempt {
	return &models.DeliveryAttempt{
		ID:          id,
		RecipientID: recipientID,
		Channel:     channel,
		Type:        models.TypeReminderThreeDay,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestLifecyclePendingToSent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	att := newAttempt("att-1", "pat-1", models.ChannelLINE)
	if err := st.CreateAttempt(ctx, att); err != nil {
		t.Fatalf("create: %v", err)
	}

	sentAt := time.Now()
	if err := st.MarkSent(ctx, att.ID, sentAt, "req-1", map[string]string{"status_code": "200"}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	got, err := st.GetAttempt(ctx, att.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusSent || got.SentAt == nil {
		t.Fatalf("expected sent with timestamp, got %+v", got)
	}
	if got.ProviderMeta["provider_message_id"] != "req-1" {
		t.Fatalf("provider id lost, got %+v", got.ProviderMeta)
	}
}

func TestIncrementRetryCountsSameChannelOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	att := newAttempt("att-1", "pat-1", models.ChannelSMS)
	if err := st.CreateAttempt(ctx, att); err != nil {
		t.Fatalf("create: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := st.IncrementRetry(ctx, att.ID, "gateway 500", nil)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected retry count %d, got %d", want, got)
		}
	}

	// A fallback to another channel is a new row, not an increment.
	other := newAttempt("att-2", "pat-1", models.ChannelEmail)
	if err := st.CreateAttempt(ctx, other); err != nil {
		t.Fatalf("create fallback row: %v", err)
	}
	got, err := st.GetAttempt(ctx, other.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RetryCount != 0 {
		t.Fatalf("fallback row must start at zero retries, got %d", got.RetryCount)
	}
}

func TestDueRetriesFiltersByTime(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now()

	overdue := newAttempt("att-1", "pat-1", models.ChannelLINE)
	future := newAttempt("att-2", "pat-1", models.ChannelLINE)
	terminal := newAttempt("att-3", "pat-1", models.ChannelLINE)
	for _, att := range []*models.DeliveryAttempt{overdue, future, terminal} {
		if err := st.CreateAttempt(ctx, att); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	past := now.Add(-time.Minute)
	later := now.Add(time.Hour)
	if err := st.MarkFailed(ctx, overdue.ID, "x", &past); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := st.MarkFailed(ctx, future.ID, "x", &later); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := st.MarkFailed(ctx, terminal.ID, "x", nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	due, err := st.DueRetries(ctx, now, 10)
	if err != nil {
		t.Fatalf("due retries: %v", err)
	}
	if len(due) != 1 || due[0].ID != overdue.ID {
		t.Fatalf("expected only the overdue row, got %+v", due)
	}
}

func TestMarkLatestSentReadPicksNewest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	older := newAttempt("att-1", "pat-1", models.ChannelLINE)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newAttempt("att-2", "pat-1", models.ChannelLINE)
	for _, att := range []*models.DeliveryAttempt{older, newer} {
		if err := st.CreateAttempt(ctx, att); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := st.MarkSent(ctx, att.ID, time.Now(), "", nil); err != nil {
			t.Fatalf("mark sent: %v", err)
		}
	}

	updated, err := st.MarkLatestSentRead(ctx, "pat-1", models.ChannelLINE, time.Now())
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !updated {
		t.Fatal("expected a row to be updated")
	}

	gotNewer, _ := st.GetAttempt(ctx, newer.ID)
	gotOlder, _ := st.GetAttempt(ctx, older.ID)
	if gotNewer.Status != models.StatusRead {
		t.Fatalf("newest sent row must be marked read, got %s", gotNewer.Status)
	}
	if gotOlder.Status != models.StatusSent {
		t.Fatalf("older row must be untouched, got %s", gotOlder.Status)
	}
}

func TestMarkLatestSentReadNoMatch(t *testing.T) {
	st := store.NewMemoryStore()
	updated, err := st.MarkLatestSentRead(context.Background(), "pat-1", models.ChannelLINE, time.Now())
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if updated {
		t.Fatal("no sent row exists, nothing may be updated")
	}
}

func TestGetAttemptNotFound(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.GetAttempt(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDirectoryLinkAndUnlink(t *testing.T) {
	ctx := context.Background()
	dir := store.NewMemoryDirectory(&models.Recipient{ID: "pat-1", Name: "田中"})

	if err := dir.LinkLineUser(ctx, "pat-1", "U1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	got, err := dir.FindByLineUserID(ctx, "U1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "pat-1" {
		t.Fatalf("wrong recipient: %+v", got)
	}

	if err := dir.UnlinkLineUser(ctx, "U1"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if _, err := dir.FindByLineUserID(ctx, "U1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after unlink, got %v", err)
	}
}
