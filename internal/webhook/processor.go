// Package webhook verifies and processes inbound LINE callbacks:
// identity linkage, reactive replies, postback confirmations and read
// receipts.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/content"
	"github.com/example/clinic-notify/internal/events"
	"github.com/example/clinic-notify/internal/metrics"
	"github.com/example/clinic-notify/internal/models"
	lineprovider "github.com/example/clinic-notify/internal/providers/line"
	"github.com/example/clinic-notify/internal/store"
)

// Replier answers a webhook event through its one-shot reply token.
// Both the HTTP and the mock LINE provider satisfy it.
type Replier interface {
	Reply(ctx context.Context, replyToken string, messages []map[string]any) (*lineprovider.RawResponse, error)
}

// Result summarizes one webhook request: how many events were handled
// and how many were skipped or failed. A partially failed batch is
// still a 200 to the provider; only an invalid signature is an error.
type Result struct {
	Handled    int
	Skipped    int
	Failed     int
	Duplicates int
}

// Dependencies collects the processor's collaborators.
type Dependencies struct {
	Store     store.DeliveryStore
	Directory store.RecipientDirectory
	Replier   Replier
	Builder   *content.Builder
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Processor handles inbound LINE webhook requests.
type Processor struct {
	secret    string
	store     store.DeliveryStore
	directory store.RecipientDirectory
	replier   Replier
	builder   *content.Builder
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	seen      *seenEvents
}

// NewProcessor constructs a webhook processor. The secret is the LINE
// channel secret used for signature verification.
func NewProcessor(secret string, deps Dependencies) (*Processor, error) {
	if secret == "" {
		return nil, errors.New("webhook: channel secret is required")
	}
	if deps.Store == nil {
		return nil, errors.New("webhook: delivery store dependency is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("webhook: recipient directory dependency is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("webhook: content builder dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "webhook_processor").Logger()

	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Processor{
		secret:    secret,
		store:     deps.Store,
		directory: deps.Directory,
		replier:   deps.Replier,
		builder:   deps.Builder,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       nowFunc,
		seen:      newSeenEvents(time.Hour, nowFunc),
	}, nil
}

// Handle verifies the signature over the raw body and processes each
// event independently. A malformed or failing event never aborts the
// rest of the batch; an invalid signature aborts everything before any
// parsing.
func (p *Processor) Handle(ctx context.Context, rawBody []byte, signature string) (*Result, error) {
	if err := VerifySignature(p.secret, rawBody, signature); err != nil {
		p.logger.Warn().Msg("webhook rejected: invalid signature")
		return nil, err
	}

	var envelope Envelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, common.WrapValidation(fmt.Errorf("decode webhook envelope: %w", err))
	}

	result := &Result{}
	for i := range envelope.Events {
		event := &envelope.Events[i]

		if p.seen.observe(event.WebhookEventID) {
			result.Duplicates++
			p.count(event.Type, "duplicate")
			continue
		}

		if err := p.handleEvent(ctx, event); err != nil {
			result.Failed++
			p.count(event.Type, "error")
			p.logger.Error().Err(err).
				Str("event_type", event.Type).
				Str("line_user_id", event.Source.UserID).
				Msg("webhook event failed")
			continue
		}
		if handledEventType(event.Type) {
			result.Handled++
			p.count(event.Type, "handled")
		} else {
			result.Skipped++
			p.count(event.Type, "ignored")
		}
	}
	return result, nil
}

func handledEventType(eventType string) bool {
	switch eventType {
	case "follow", "unfollow", "message", "postback", "read":
		return true
	}
	return false
}

func (p *Processor) handleEvent(ctx context.Context, event *Event) error {
	switch event.Type {
	case "follow":
		return p.handleFollow(ctx, event)
	case "unfollow":
		return p.handleUnfollow(ctx, event)
	case "message":
		return p.handleMessage(ctx, event)
	case "postback":
		return p.handlePostback(ctx, event)
	case "read":
		return p.handleRead(ctx, event)
	default:
		p.logger.Debug().Str("event_type", event.Type).Msg("ignoring unhandled webhook event")
		return nil
	}
}

// handleFollow welcomes the user and refreshes the identity link when
// the user id is already known to the patient directory. A follow from
// an unknown user still gets the welcome; linkage waits for front-desk
// registration.
func (p *Processor) handleFollow(ctx context.Context, event *Event) error {
	recipient, err := p.directory.FindByLineUserID(ctx, event.Source.UserID)
	switch {
	case err == nil:
		if err := p.directory.LinkLineUser(ctx, recipient.ID, event.Source.UserID); err != nil {
			return fmt.Errorf("relink line user: %w", err)
		}
		p.logger.Info().
			Str("recipient_id", recipient.ID).
			Msg("line follow relinked recipient")
	case errors.Is(err, store.ErrNotFound):
		p.logger.Info().
			Str("line_user_id", event.Source.UserID).
			Msg("line follow from unregistered user")
	default:
		return fmt.Errorf("lookup by line user id: %w", err)
	}

	return p.reply(ctx, event.ReplyToken, p.builder.Reply(content.ReplyWelcome))
}

func (p *Processor) handleUnfollow(ctx context.Context, event *Event) error {
	err := p.directory.UnlinkLineUser(ctx, event.Source.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// Already unlinked, or the user was never registered.
		return nil
	}
	if err != nil {
		return fmt.Errorf("unlink line user: %w", err)
	}
	p.logger.Info().Str("line_user_id", event.Source.UserID).Msg("line user unlinked on unfollow")
	return nil
}

// handleMessage matches free text against the keyword categories and
// sends the matching canned reply.
func (p *Processor) handleMessage(ctx context.Context, event *Event) error {
	if event.Message == nil || event.Message.Type != "text" {
		return p.reply(ctx, event.ReplyToken, p.builder.Reply(content.ReplyFallback))
	}

	if _, err := p.directory.FindByLineUserID(ctx, event.Source.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.reply(ctx, event.ReplyToken, p.builder.Reply(content.ReplyUnregistered))
		}
		return fmt.Errorf("lookup by line user id: %w", err)
	}

	return p.reply(ctx, event.ReplyToken, p.builder.Reply(classifyKeyword(event.Message.Text)))
}

func classifyKeyword(text string) content.ReplyKind {
	switch {
	case strings.Contains(text, "キャンセル"):
		return content.ReplyCancellation
	case strings.Contains(text, "変更"):
		return content.ReplyChange
	case strings.Contains(text, "予約"):
		return content.ReplyBooking
	default:
		return content.ReplyFallback
	}
}

// handlePostback parses the structured button payload. A confirm
// action counts as an explicit read of the latest sent LINE
// notification.
func (p *Processor) handlePostback(ctx context.Context, event *Event) error {
	if event.Postback == nil {
		return common.WrapValidation(errors.New("postback event without payload"))
	}
	data, err := ParsePostbackData(event.Postback.Data)
	if err != nil {
		return err
	}

	switch data.Action {
	case "confirm":
		recipient, err := p.directory.FindByLineUserID(ctx, event.Source.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return p.reply(ctx, event.ReplyToken, p.builder.Reply(content.ReplyUnregistered))
			}
			return fmt.Errorf("lookup by line user id: %w", err)
		}
		if err := p.markRead(ctx, recipient.ID); err != nil {
			return err
		}
		p.logger.Info().
			Str("recipient_id", recipient.ID).
			Str("appointment_id", data.AppointmentID).
			Msg("appointment confirmed via postback")
		return nil
	default:
		p.logger.Debug().Str("action", data.Action).Msg("ignoring unhandled postback action")
		return nil
	}
}

func (p *Processor) handleRead(ctx context.Context, event *Event) error {
	recipient, err := p.directory.FindByLineUserID(ctx, event.Source.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup by line user id: %w", err)
	}
	return p.markRead(ctx, recipient.ID)
}

// markRead flips the newest sent LINE attempt for the recipient. The
// receipt carries no attempt id, so this correlation is best-effort.
func (p *Processor) markRead(ctx context.Context, recipientID string) error {
	updated, err := p.store.MarkLatestSentRead(ctx, recipientID, models.ChannelLINE, p.now())
	if err != nil {
		return fmt.Errorf("mark latest sent read: %w", err)
	}
	if !updated {
		p.logger.Debug().Str("recipient_id", recipientID).Msg("read receipt with no sent attempt to match")
		return nil
	}
	if err := p.publisher.Publish(ctx, events.StatusEvent{
		RecipientID: recipientID,
		Channel:     models.ChannelLINE,
		EventType:   events.EventRead,
		Timestamp:   p.now(),
	}); err != nil {
		p.logger.Error().Err(err).Str("recipient_id", recipientID).Msg("failed to publish read event")
	}
	return nil
}

func (p *Processor) reply(ctx context.Context, replyToken, text string) error {
	if p.replier == nil || replyToken == "" {
		return nil
	}
	messages := []map[string]any{{"type": "text", "text": text}}
	if _, err := p.replier.Reply(ctx, replyToken, messages); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (p *Processor) count(eventType, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
}
