// Package sms adapts the SMS gateway provider to the uniform channel
// adapter contract, normalizing phone numbers and enforcing the
// single-segment body limit before any transport call.
package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/models"
	smsprovider "github.com/example/clinic-notify/internal/providers/sms"
	"github.com/example/clinic-notify/internal/util"
)

const defaultTimeout = 10 * time.Second

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

// WithCountryCode sets the country prefix assumed for national-format
// numbers.
func WithCountryCode(code string) Option {
	return func(a *Adapter) {
		if code != "" {
			a.countryCode = code
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

// Adapter implements common.Adapter for the SMS channel.
type Adapter struct {
	logger      zerolog.Logger
	provider    smsprovider.Provider
	timeout     time.Duration
	countryCode string
	now         func() time.Time
}

// NewAdapter constructs an SMS adapter using the supplied provider.
func NewAdapter(provider smsprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("sms adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger,
		provider:    provider,
		timeout:     defaultTimeout,
		countryCode: util.DefaultCountryCode,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Channel implements common.Adapter.
func (a *Adapter) Channel() string { return models.ChannelSMS }

// Send normalizes the destination number, truncates the body to the
// segment limit and delegates to the gateway. A malformed number is a
// validation failure: it is rejected before any transport call and
// must not consume a retry slot.
func (a *Adapter) Send(ctx context.Context, msg *common.Message) (result *models.ChannelResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.WrapTransient(fmt.Errorf("sms adapter: provider panic: %v", r))
			result = a.failure(err)
		}
	}()

	if msg == nil || msg.To == "" {
		err = common.WrapValidation(errors.New("sms adapter: recipient number is required"))
		return a.failure(err), err
	}

	to, normErr := util.NormalizePhone(msg.To, a.countryCode)
	if normErr != nil {
		err = common.WrapValidation(normErr)
		a.logger.Warn().
			Str("channel", models.ChannelSMS).
			Err(normErr).
			Msg("sms adapter rejected malformed number")
		return a.failure(err), err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload := &smsprovider.Payload{
		To:   to,
		Body: util.TruncateSMS(msg.Text),
		Meta: msg.Meta,
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
			res.Meta = rawMeta(raw)
		}
		a.logger.Warn().
			Str("channel", models.ChannelSMS).
			Err(sendErr).
			Msg("sms adapter send failed")
		return res, err
	}

	res := &models.ChannelResult{
		Channel: models.ChannelSMS,
		Success: true,
		SentAt:  a.now(),
	}
	if raw != nil {
		res.ProviderMessageID = raw.ID
		res.Meta = rawMeta(raw)
	}
	a.logger.Debug().
		Str("channel", models.ChannelSMS).
		Str("provider_id", res.ProviderMessageID).
		Msg("sms adapter send succeeded")
	return res, nil
}

func (a *Adapter) failure(err error) *models.ChannelResult {
	return &models.ChannelResult{
		Channel: models.ChannelSMS,
		Success: false,
		Error:   err.Error(),
		SentAt:  a.now(),
	}
}

func classify(raw *smsprovider.RawResponse, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.WrapTransient(err)
	}
	if raw != nil {
		switch {
		case raw.Code == http.StatusTooManyRequests:
			return common.WrapTransient(err)
		case raw.Code >= http.StatusInternalServerError:
			return common.WrapTransient(err)
		case raw.Code >= http.StatusBadRequest:
			return common.WrapPermanent(err)
		}
	}
	return common.WrapTransient(err)
}

func rawMeta(raw *smsprovider.RawResponse) map[string]string {
	meta := map[string]string{}
	if raw.Status != "" {
		meta["provider_status"] = raw.Status
	}
	if raw.Code != 0 {
		meta["status_code"] = fmt.Sprintf("%d", raw.Code)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
