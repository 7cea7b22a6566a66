package dispatch_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/content"
	"github.com/example/clinic-notify/internal/dispatch"
	"github.com/example/clinic-notify/internal/models"
	"github.com/example/clinic-notify/internal/store"
)

type channelStub struct {
	mu      sync.Mutex
	channel string
	fail    error
	calls   int
}

func (c *channelStub) Channel() string { return c.channel }

func (c *channelStub) Send(ctx context.Context, msg *common.Message) (*models.ChannelResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.fail != nil {
		return &models.ChannelResult{
			Channel: c.channel,
			Success: false,
			Error:   c.fail.Error(),
			SentAt:  time.Now(),
		}, c.fail
	}
	return &models.ChannelResult{
		Channel:           c.channel,
		Success:           true,
		ProviderMessageID: c.channel + "-msg-1",
		SentAt:            time.Now(),
	}, nil
}

func (c *channelStub) sendCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type retrierSpy struct {
	mu       sync.Mutex
	attempts []*models.DeliveryAttempt
}

func (r *retrierSpy) Schedule(attempt *models.DeliveryAttempt, exclude []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
}

func newDispatcher(t *testing.T, st *store.MemoryStore, adapters ...common.Adapter) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.NewDispatcher(dispatch.Dependencies{
		Adapters: adapters,
		Builder:  content.NewBuilder(),
		Store:    st,
		Logger:   zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return d
}

func allChannelStubs() (*channelStub, *channelStub, *channelStub) {
	return &channelStub{channel: models.ChannelLINE},
		&channelStub{channel: models.ChannelEmail},
		&channelStub{channel: models.ChannelSMS}
}

func attemptsFor(t *testing.T, st *store.MemoryStore, recipientID string) []*models.DeliveryAttempt {
	t.Helper()
	attempts, err := st.ListByRecipient(context.Background(), recipientID, 0)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	return attempts
}

func TestDispatchEmailOnlyRecipientUsesEmailOnly(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, sms := allChannelStubs()
	d := newDispatcher(t, st, line, email, sms)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中", Email: "tanaka@example.com"}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeConfirmation,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !outcome.Success || outcome.WinningChannel != models.ChannelEmail {
		t.Fatalf("expected email win, got %+v", outcome)
	}
	if line.sendCalls() != 0 || sms.sendCalls() != 0 {
		t.Fatal("line and sms must never be attempted for an email-only recipient")
	}
	if got := attemptsFor(t, st, recipient.ID); len(got) != 1 || got[0].Channel != models.ChannelEmail {
		t.Fatalf("expected exactly one email attempt row, got %d", len(got))
	}
}

func TestDispatchFirstSuccessWins(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, sms := allChannelStubs()
	d := newDispatcher(t, st, line, email, sms)

	recipient := &models.Recipient{
		ID: "pat-1", Name: "田中",
		LineUserID: "U1", Email: "tanaka@example.com", Phone: "09012345678",
	}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeReminderSevenDay,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.WinningChannel != models.ChannelLINE || outcome.TotalAttempts != 1 {
		t.Fatalf("expected single line attempt, got %+v", outcome)
	}
	if email.sendCalls() != 0 || sms.sendCalls() != 0 {
		t.Fatal("no channel after the first success may be attempted")
	}
}

func TestDispatchFallsBackToSMS(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, sms := allChannelStubs()
	line.fail = common.WrapTransient(errors.New("upstream 500"))
	email.fail = common.WrapTransient(errors.New("smtp 451"))
	d := newDispatcher(t, st, line, email, sms)

	recipient := &models.Recipient{
		ID: "pat-1", Name: "田中",
		LineUserID: "U1", Email: "tanaka@example.com", Phone: "09012345678",
	}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeCancellation,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !outcome.Success || outcome.WinningChannel != models.ChannelSMS {
		t.Fatalf("expected sms win, got %+v", outcome)
	}
	if outcome.TotalAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.TotalAttempts)
	}
	if sms.sendCalls() != 1 {
		t.Fatalf("expected exactly one sms attempt, got %d", sms.sendCalls())
	}
}

func TestDispatchNoContactMethod(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, sms := allChannelStubs()
	d := newDispatcher(t, st, line, email, sms)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中"}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeGeneric,
	})
	if !errors.Is(err, common.ErrNoContact) {
		t.Fatalf("expected no-contact error, got %v", err)
	}
	if outcome.TotalAttempts != 0 {
		t.Fatalf("no attempts may be made, got %d", outcome.TotalAttempts)
	}
	if got := attemptsFor(t, st, recipient.ID); len(got) != 0 {
		t.Fatalf("no rows may be created, got %d", len(got))
	}
}

func TestDispatchExhaustionAggregatesErrors(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, _ := allChannelStubs()
	line.fail = common.WrapTransient(errors.New("upstream 500"))
	email.fail = common.WrapPermanent(errors.New("mailbox unavailable"))
	d := newDispatcher(t, st, line, email)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1", Email: "t@example.com"}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeChange,
	})
	if !errors.Is(err, common.ErrExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if outcome.Success || outcome.TotalAttempts != 2 {
		t.Fatalf("expected 2 failed attempts, got %+v", outcome)
	}
	for _, att := range outcome.Attempts {
		if att.Error == "" {
			t.Fatalf("every failed attempt must carry its error, got %+v", att)
		}
	}
}

func TestDispatchSchedulesRetryOnExhaustion(t *testing.T) {
	st := store.NewMemoryStore()
	line, _, _ := allChannelStubs()
	line.fail = common.WrapTransient(errors.New("upstream 500"))
	d := newDispatcher(t, st, line)
	spy := &retrierSpy{}
	d.SetRetrier(spy)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"}
	_, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeReminderOneDay,
	})
	if !errors.Is(err, common.ErrExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if len(spy.attempts) != 1 || spy.attempts[0].Channel != models.ChannelLINE {
		t.Fatalf("expected one retryable line attempt scheduled, got %+v", spy.attempts)
	}
}

func TestDispatchNoRetryForPermanentFailure(t *testing.T) {
	st := store.NewMemoryStore()
	line, _, _ := allChannelStubs()
	line.fail = common.WrapPermanent(errors.New("blocked by user"))
	d := newDispatcher(t, st, line)
	spy := &retrierSpy{}
	d.SetRetrier(spy)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"}
	_, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeReminderOneDay,
	})
	if !errors.Is(err, common.ErrExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if len(spy.attempts) != 0 {
		t.Fatal("permanent failures must not be scheduled for retry")
	}
}

func TestDispatchRespectsExclusions(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, _ := allChannelStubs()
	d := newDispatcher(t, st, line, email)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1", Email: "t@example.com"}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeGeneric,
		Exclude:   []string{models.ChannelLINE},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.WinningChannel != models.ChannelEmail {
		t.Fatalf("excluded channel must be skipped, got %+v", outcome)
	}
	if line.sendCalls() != 0 {
		t.Fatal("excluded channel was attempted")
	}
}

func TestDispatchAllChannelsExcludedIsExhaustion(t *testing.T) {
	st := store.NewMemoryStore()
	line, _, _ := allChannelStubs()
	d := newDispatcher(t, st, line)

	recipient := &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeGeneric,
		Exclude:   []string{models.ChannelLINE},
	})
	if !errors.Is(err, common.ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if outcome.TotalAttempts != 0 {
		t.Fatal("fully excluded dispatch must not attempt anything")
	}
}

func TestDispatchOptOutSkipsChannel(t *testing.T) {
	st := store.NewMemoryStore()
	line, email, _ := allChannelStubs()
	d := newDispatcher(t, st, line, email)

	recipient := &models.Recipient{
		ID: "pat-1", Name: "田中",
		LineUserID: "U1", LineOptOut: true,
		Email: "t@example.com",
	}
	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient: recipient,
		Type:      models.TypeReminderThreeDay,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.WinningChannel != models.ChannelEmail || line.sendCalls() != 0 {
		t.Fatalf("opted-out channel must be skipped, got %+v", outcome)
	}
}

func TestDispatchEndToEndLineOnlyReminder(t *testing.T) {
	st := store.NewMemoryStore()
	line, _, _ := allChannelStubs()
	d := newDispatcher(t, st, line)

	recipient := &models.Recipient{ID: "pat-9", Name: "佐藤", LineUserID: "U9"}
	appointment := &models.Appointment{
		ID:        "apt-9",
		PatientID: recipient.ID,
		StartsAt:  time.Date(2026, 3, 14, 1, 30, 0, 0, time.UTC),
		Treatment: "定期検診",
	}

	outcome, err := d.Dispatch(context.Background(), dispatch.Request{
		Recipient:   recipient,
		Type:        models.TypeReminderThreeDay,
		Appointment: appointment,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !outcome.Success || outcome.WinningChannel != models.ChannelLINE {
		t.Fatalf("expected line win, got %+v", outcome)
	}

	rows := attemptsFor(t, st, recipient.ID)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if row.Channel != models.ChannelLINE || row.Status != models.StatusSent {
		t.Fatalf("expected sent line row, got %+v", row)
	}
	if row.AppointmentID != appointment.ID {
		t.Fatalf("appointment reference lost, got %q", row.AppointmentID)
	}
}
