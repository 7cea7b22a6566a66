// Package email adapts the SMTP provider to the uniform channel
// adapter contract.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/models"
	emailprovider "github.com/example/clinic-notify/internal/providers/email"
)

const defaultTimeout = 15 * time.Second

// Option modifies adapter behaviour.
type Option func(*Adapter)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithClock overrides the clock used to timestamp results.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter implements common.Adapter for the email channel. Delivery is
// fire-and-forget from the dispatcher's point of view: transport errors
// surface as failed ChannelResults, nothing more.
type Adapter struct {
	logger   zerolog.Logger
	provider emailprovider.Provider
	timeout  time.Duration
	now      func() time.Time
}

// NewAdapter constructs an email adapter using the supplied provider.
func NewAdapter(provider emailprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("email adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:   logger,
		provider: provider,
		timeout:  defaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Channel implements common.Adapter.
func (a *Adapter) Channel() string { return models.ChannelEmail }

// Send renders the subject and body into a provider payload and
// delegates to the mail transport.
func (a *Adapter) Send(ctx context.Context, msg *common.Message) (result *models.ChannelResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.WrapTransient(fmt.Errorf("email adapter: provider panic: %v", r))
			result = a.failure(err)
		}
	}()

	if msg == nil || msg.To == "" {
		err = common.WrapValidation(errors.New("email adapter: recipient address is required"))
		return a.failure(err), err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload := &emailprovider.Payload{
		To:      msg.To,
		Subject: msg.Subject,
		Body:    bodyOf(msg),
		Meta:    msg.Meta,
	}
	if id, ok := msg.Meta["message_id"]; ok {
		payload.MessageID = id
	}

	raw, sendErr := a.provider.Send(ctx, payload)
	if sendErr != nil {
		err = classify(raw, sendErr)
		res := a.failure(err)
		if raw != nil {
			res.ProviderMessageID = raw.ID
			res.Meta = map[string]string{"smtp_code": fmt.Sprintf("%d", raw.Code)}
		}
		a.logger.Warn().
			Str("channel", models.ChannelEmail).
			Err(sendErr).
			Msg("email adapter send failed")
		return res, err
	}

	res := &models.ChannelResult{
		Channel: models.ChannelEmail,
		Success: true,
		SentAt:  a.now(),
	}
	if raw != nil {
		res.ProviderMessageID = raw.ID
	}
	a.logger.Debug().
		Str("channel", models.ChannelEmail).
		Msg("email adapter send succeeded")
	return res, nil
}

func (a *Adapter) failure(err error) *models.ChannelResult {
	return &models.ChannelResult{
		Channel: models.ChannelEmail,
		Success: false,
		Error:   err.Error(),
		SentAt:  a.now(),
	}
}

func bodyOf(msg *common.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Subject
}

// classify maps SMTP reply codes onto the retry taxonomy: 4xx replies
// are transient per RFC 5321, 5xx replies are permanent.
func classify(raw *emailprovider.RawResponse, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.WrapTransient(err)
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return common.WrapPermanent(err)
		}
		return common.WrapTransient(err)
	}
	if raw != nil && raw.Code >= 500 {
		return common.WrapPermanent(err)
	}
	return common.WrapTransient(err)
}
