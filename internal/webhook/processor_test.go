package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/content"
	"github.com/example/clinic-notify/internal/models"
	lineprovider "github.com/example/clinic-notify/internal/providers/line"
	"github.com/example/clinic-notify/internal/store"
	"github.com/example/clinic-notify/internal/webhook"
)

const testSecret = "channel-secret"

type fixture struct {
	processor *webhook.Processor
	store     *store.MemoryStore
	directory *store.MemoryDirectory
	replier   *lineprovider.MockProvider
}

func newFixture(t *testing.T, recipients ...*models.Recipient) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	dir := store.NewMemoryDirectory(recipients...)
	replier := lineprovider.NewMockProvider(zerolog.New(io.Discard))

	proc, err := webhook.NewProcessor(testSecret, webhook.Dependencies{
		Store:     st,
		Directory: dir,
		Replier:   replier,
		Builder:   content.NewBuilder(),
		Logger:    zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	return &fixture{processor: proc, store: st, directory: dir, replier: replier}
}

func envelope(t *testing.T, events ...webhook.Event) []byte {
	t.Helper()
	body, err := json.Marshal(webhook.Envelope{Destination: "U-bot", Events: events})
	require.NoError(t, err)
	return body
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	body := envelope(t, webhook.Event{Type: "follow", Source: webhook.Source{UserID: "U1"}})

	_, err := f.processor.Handle(context.Background(), body, "bogus")
	require.ErrorIs(t, err, common.ErrUnauthorized)
	require.Empty(t, f.replier.Replies, "no event may be processed on auth failure")
}

func TestHandleFollowSendsWelcome(t *testing.T) {
	f := newFixture(t, &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"})
	body := envelope(t, webhook.Event{
		Type:           "follow",
		WebhookEventID: "evt-1",
		ReplyToken:     "rt-1",
		Source:         webhook.Source{UserID: "U1"},
	})

	result, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)
	require.Equal(t, 1, result.Handled)
	require.Equal(t, []string{"rt-1"}, f.replier.Replies)
}

func TestHandleUnfollowUnlinksUser(t *testing.T) {
	f := newFixture(t, &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"})
	body := envelope(t, webhook.Event{
		Type:           "unfollow",
		WebhookEventID: "evt-2",
		Source:         webhook.Source{UserID: "U1"},
	})

	_, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)

	_, err = f.directory.FindByLineUserID(context.Background(), "U1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleMessageKeywordReplies(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"booking", "予約をお願いします"},
		{"change", "予約の変更はできますか"},
		{"cancellation", "明日の予約をキャンセルしたいです"},
		{"fallback", "ありがとうございました"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"})
			body := envelope(t, webhook.Event{
				Type:           "message",
				WebhookEventID: "evt-" + tc.name,
				ReplyToken:     "rt-" + tc.name,
				Source:         webhook.Source{UserID: "U1"},
				Message:        &webhook.Message{Type: "text", Text: tc.text},
			})

			result, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
			require.NoError(t, err)
			require.Equal(t, 1, result.Handled)
			require.Equal(t, []string{"rt-" + tc.name}, f.replier.Replies)
		})
	}
}

func TestHandleMessageFromUnregisteredUser(t *testing.T) {
	f := newFixture(t)
	body := envelope(t, webhook.Event{
		Type:           "message",
		WebhookEventID: "evt-5",
		ReplyToken:     "rt-5",
		Source:         webhook.Source{UserID: "U-unknown"},
		Message:        &webhook.Message{Type: "text", Text: "予約したい"},
	})

	result, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)
	require.Equal(t, 1, result.Handled)
	require.Len(t, f.replier.Replies, 1)
}

func TestHandlePostbackConfirmMarksRead(t *testing.T) {
	f := newFixture(t, &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"})

	sent := time.Now()
	attempt := &models.DeliveryAttempt{
		ID:          "att-1",
		RecipientID: "pat-1",
		Channel:     models.ChannelLINE,
		Type:        models.TypeReminderThreeDay,
		Status:      models.StatusPending,
		CreatedAt:   sent,
	}
	require.NoError(t, f.store.CreateAttempt(context.Background(), attempt))
	require.NoError(t, f.store.MarkSent(context.Background(), attempt.ID, sent, "req-1", nil))

	body := envelope(t, webhook.Event{
		Type:           "postback",
		WebhookEventID: "evt-6",
		Source:         webhook.Source{UserID: "U1"},
		Postback:       &webhook.Postback{Data: "action=confirm&appointment_id=apt-42"},
	})

	_, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)

	got, err := f.store.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, got.Status)
}

func TestHandleDuplicateEventIsSkipped(t *testing.T) {
	f := newFixture(t, &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"})
	event := webhook.Event{
		Type:           "message",
		WebhookEventID: "evt-dup",
		ReplyToken:     "rt-7",
		Source:         webhook.Source{UserID: "U1"},
		Message:        &webhook.Message{Type: "text", Text: "予約"},
	}
	body := envelope(t, event)

	_, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)

	result, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)
	require.Equal(t, 1, result.Duplicates)
	require.Len(t, f.replier.Replies, 1, "replay must not double-send the reply")
}

func TestHandleMalformedEventDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, &models.Recipient{ID: "pat-1", Name: "田中", LineUserID: "U1"})
	body := envelope(t,
		webhook.Event{
			Type:           "postback",
			WebhookEventID: "evt-bad",
			Source:         webhook.Source{UserID: "U1"},
			Postback:       &webhook.Postback{Data: "garbage"},
		},
		webhook.Event{
			Type:           "follow",
			WebhookEventID: "evt-good",
			ReplyToken:     "rt-8",
			Source:         webhook.Source{UserID: "U1"},
		},
	)

	result, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.Handled)
	require.Equal(t, []string{"rt-8"}, f.replier.Replies)
}

func TestHandleUnknownEventTypeIgnored(t *testing.T) {
	f := newFixture(t)
	body := envelope(t, webhook.Event{Type: "videoPlayComplete", WebhookEventID: "evt-9"})

	result, err := f.processor.Handle(context.Background(), body, sign(testSecret, body))
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.Failed)
}

func TestParsePostbackData(t *testing.T) {
	data, err := webhook.ParsePostbackData("action=confirm&appointment_id=apt-42")
	require.NoError(t, err)
	require.Equal(t, "confirm", data.Action)
	require.Equal(t, "apt-42", data.AppointmentID)

	_, err = webhook.ParsePostbackData("appointment_id=apt-42")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = webhook.ParsePostbackData("")
	require.ErrorIs(t, err, common.ErrValidation)
}
