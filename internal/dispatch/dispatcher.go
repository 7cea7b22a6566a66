// Package dispatch orchestrates the channel fallback chain: LINE,
// then email, then SMS, stopping at the first success.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/content"
	"github.com/example/clinic-notify/internal/events"
	"github.com/example/clinic-notify/internal/metrics"
	"github.com/example/clinic-notify/internal/models"
	"github.com/example/clinic-notify/internal/store"
)

// Retrier schedules an asynchronous same-channel retry for a failed
// attempt. The exclude set lists channels this dispatch chain has
// already written off, so a later fallback never revisits them.
type Retrier interface {
	Schedule(attempt *models.DeliveryAttempt, exclude []string)
}

// Request describes one notification to deliver.
type Request struct {
	Recipient   *models.Recipient
	Type        models.NotificationType
	Appointment *models.Appointment
	// Content overrides the builder's rendering when pre-built.
	Content *content.Bundle
	// Exclude removes channels from the chain. Used when a retry
	// exhaustion falls back to the remaining channels.
	Exclude []string
}

// Dependencies collects the runtime collaborators required by the
// dispatcher.
type Dependencies struct {
	Adapters  []common.Adapter
	Builder   *content.Builder
	Store     store.DeliveryStore
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Dispatcher walks the fallback chain for each request. It is safe for
// concurrent use; each request is processed sequentially on the
// calling goroutine because first-success-wins forbids parallel
// channel attempts.
type Dispatcher struct {
	adapters  map[string]common.Adapter
	builder   *content.Builder
	store     store.DeliveryStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	retrier   Retrier
	now       func() time.Time
	newID     func() string
}

// NewDispatcher constructs a dispatcher and validates its
// collaborators.
func NewDispatcher(deps Dependencies) (*Dispatcher, error) {
	if len(deps.Adapters) == 0 {
		return nil, errors.New("dispatch: at least one adapter is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("dispatch: content builder dependency is required")
	}
	if deps.Store == nil {
		return nil, errors.New("dispatch: delivery store dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "dispatcher").Logger()

	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	adapters := make(map[string]common.Adapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		if a == nil {
			continue
		}
		adapters[a.Channel()] = a
	}

	return &Dispatcher{
		adapters:  adapters,
		builder:   deps.Builder,
		store:     deps.Store,
		publisher: publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       nowFunc,
		newID:     newID,
	}, nil
}

// SetRetrier installs the retry scheduler. Wiring is two-phase because
// the scheduler needs the dispatcher for exhaustion fallbacks.
func (d *Dispatcher) SetRetrier(r Retrier) {
	d.retrier = r
}

// Dispatch tries channels in fixed priority order and returns after
// the first success or after every eligible channel has failed. It
// never panics outward and never returns a nil outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*models.DispatchOutcome, error) {
	outcome := &models.DispatchOutcome{}

	if req.Recipient == nil {
		return outcome, common.WrapValidation(errors.New("dispatch: recipient is required"))
	}

	eligible := d.eligibleChannels(req)
	if len(eligible) == 0 {
		if len(req.Exclude) > 0 {
			return outcome, fmt.Errorf("%w: recipient %s has no channels left after exclusions", common.ErrExhausted, req.Recipient.ID)
		}
		d.logger.Warn().
			Str("recipient_id", req.Recipient.ID).
			Str("notification_type", string(req.Type)).
			Msg("recipient has no usable contact method")
		return outcome, fmt.Errorf("%w: recipient %s", common.ErrNoContact, req.Recipient.ID)
	}

	bundle := req.Content
	if bundle == nil {
		bundle = d.builder.Build(req.Type, req.Recipient, req.Appointment)
	}

	type failedAttempt struct {
		attempt   *models.DeliveryAttempt
		retryable bool
	}
	var failures []failedAttempt

	for _, channel := range eligible {
		adapter := d.adapters[channel]
		attempt := d.newAttempt(req, channel)

		if err := d.store.CreateAttempt(ctx, attempt); err != nil {
			d.logger.Error().Err(err).
				Str("channel", channel).
				Msg("failed to persist delivery attempt")
			// The transport is not consulted when bookkeeping fails.
			outcome.Attempts = append(outcome.Attempts, models.ChannelResult{
				Channel: channel,
				Success: false,
				Error:   err.Error(),
				SentAt:  d.now(),
			})
			outcome.TotalAttempts++
			continue
		}
		d.publish(ctx, attempt, events.EventCreated, "")

		msg := MessageFor(channel, req.Recipient, bundle, attempt)
		result, sendErr := adapter.Send(ctx, msg)
		if result == nil {
			// Adapters contract a non-nil result, but a broken one
			// must not abort the chain.
			result = &models.ChannelResult{Channel: channel, Success: false, SentAt: d.now()}
			if sendErr != nil {
				result.Error = sendErr.Error()
			}
		}

		outcome.Attempts = append(outcome.Attempts, *result)
		outcome.TotalAttempts++

		if result.Success {
			if err := d.store.MarkSent(ctx, attempt.ID, result.SentAt, result.ProviderMessageID, result.Meta); err != nil {
				d.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to mark attempt sent")
			}
			d.publish(ctx, attempt, events.EventSent, "")
			d.countAttempt(channel, "sent")
			d.countOutcome(channel)
			outcome.Success = true
			outcome.WinningChannel = channel
			d.logger.Info().
				Str("recipient_id", req.Recipient.ID).
				Str("channel", channel).
				Str("notification_type", string(req.Type)).
				Int("total_attempts", outcome.TotalAttempts).
				Msg("notification delivered")
			return outcome, nil
		}

		retryable := common.Retryable(sendErr)
		if err := d.store.MarkFailed(ctx, attempt.ID, result.Error, nil); err != nil {
			d.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to mark attempt failed")
		}
		d.publish(ctx, attempt, events.EventFailed, result.Error)
		d.countAttempt(channel, "failed")
		failures = append(failures, failedAttempt{attempt: attempt, retryable: retryable})

		d.logger.Warn().
			Str("recipient_id", req.Recipient.ID).
			Str("channel", channel).
			Err(sendErr).
			Msg("channel failed, falling through")
	}

	// Every eligible channel failed. Queue an asynchronous retry for
	// the highest priority retryable failure before reporting
	// exhaustion.
	d.countOutcome("none")
	for _, f := range failures {
		if !f.retryable || d.retrier == nil {
			continue
		}
		d.retrier.Schedule(f.attempt, req.Exclude)
		break
	}

	d.logger.Error().
		Str("recipient_id", req.Recipient.ID).
		Str("notification_type", string(req.Type)).
		Int("total_attempts", outcome.TotalAttempts).
		Str("failures", outcome.FailureSummary()).
		Msg("all channels exhausted")

	return outcome, fmt.Errorf("%w: %s", common.ErrExhausted, outcome.FailureSummary())
}

// eligibleChannels returns the fallback order filtered to channels the
// recipient can receive, minus exclusions, minus channels without a
// wired adapter.
func (d *Dispatcher) eligibleChannels(req Request) []string {
	excluded := make(map[string]bool, len(req.Exclude))
	for _, ch := range req.Exclude {
		excluded[ch] = true
	}

	var out []string
	for _, channel := range models.FallbackOrder {
		if excluded[channel] {
			continue
		}
		if _, ok := d.adapters[channel]; !ok {
			continue
		}
		if !req.Recipient.CanReceive(channel) {
			continue
		}
		out = append(out, channel)
	}
	return out
}

func (d *Dispatcher) newAttempt(req Request, channel string) *models.DeliveryAttempt {
	attempt := &models.DeliveryAttempt{
		ID:          d.newID(),
		RecipientID: req.Recipient.ID,
		Channel:     channel,
		Type:        req.Type,
		Status:      models.StatusPending,
		CreatedAt:   d.now(),
	}
	if req.Appointment != nil {
		attempt.AppointmentID = req.Appointment.ID
	}
	return attempt
}

func (d *Dispatcher) publish(ctx context.Context, attempt *models.DeliveryAttempt, eventType, errMsg string) {
	err := d.publisher.Publish(ctx, events.StatusEvent{
		AttemptID:   attempt.ID,
		RecipientID: attempt.RecipientID,
		Channel:     attempt.Channel,
		Type:        attempt.Type,
		EventType:   eventType,
		RetryCount:  attempt.RetryCount,
		Error:       errMsg,
		Timestamp:   d.now(),
	})
	if err != nil {
		d.logger.Error().Err(err).
			Str("attempt_id", attempt.ID).
			Str("event", eventType).
			Msg("failed to publish status event")
	}
}

func (d *Dispatcher) countAttempt(channel, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.DispatchAttempts.WithLabelValues(channel, result).Inc()
}

func (d *Dispatcher) countOutcome(winner string) {
	if d.metrics == nil {
		return
	}
	d.metrics.DispatchOutcomes.WithLabelValues(winner).Inc()
}

// MessageFor projects the channel-neutral bundle onto the payload the
// adapter understands.
func MessageFor(channel string, rec *models.Recipient, bundle *content.Bundle, attempt *models.DeliveryAttempt) *common.Message {
	msg := &common.Message{
		To:   rec.ChannelIdentifier(channel),
		Meta: map[string]string{"message_id": attempt.ID},
	}
	switch channel {
	case models.ChannelLINE:
		msg.Text = bundle.AltText
		msg.Flex = bundle.Flex
	case models.ChannelEmail:
		msg.Subject = bundle.Subject
		msg.Text = bundle.Body
	case models.ChannelSMS:
		msg.Text = bundle.Text
	}
	return msg
}
