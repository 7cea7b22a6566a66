// Package line adapts the LINE provider to the uniform channel
// adapter contract.
package line

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
	lineprovider "github.com/example/clinic-notify/internal/providers/line"
)

const defaultTimeout = 10 * time.Second

// Option modifies adapter behaviour.
type Option func(*Adapter)

// WithTimeout bounds each provider call so a stalled transport cannot
// block the fallback chain.
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

// Adapter implements common.Adapter for the LINE channel.
type Adapter struct {
	logger   zerolog.Logger
	provider lineprovider.Provider
	timeout  time.Duration
	now      func() time.Time
}

// NewAdapter constructs a LINE adapter using the supplied provider.
func NewAdapter(provider lineprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("line adapter: provider dependency is required")
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
func (a *Adapter) Channel() string { return models.ChannelLINE }

// Send pushes the message to a single LINE user. Any panic or error
// from the provider is converted into a failed ChannelResult at this
// boundary; nothing propagates to the dispatcher as a panic.
func (a *Adapter) Send(ctx context.Context, msg *common.Message) (result *models.ChannelResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.WrapTransient(fmt.Errorf("line adapter: provider panic: %v", r))
			result = a.failure(err)
		}
	}()

	if msg == nil || msg.To == "" {
		err = common.WrapValidation(errors.New("line adapter: recipient user id is required"))
		return a.failure(err), err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	payload := &lineprovider.PushPayload{
		To:       msg.To,
		Messages: buildMessages(msg),
		Meta:     msg.Meta,
	}

	raw, sendErr := a.provider.Push(ctx, payload)
	if sendErr != nil {
		err = classify(raw, sendErr)
		res := a.failure(err)
		if raw != nil {
			res.ProviderMessageID = raw.RequestID
			res.Meta = rawMeta(raw)
		}
		a.logger.Warn().
			Str("channel", models.ChannelLINE).
			Err(sendErr).
			Msg("line adapter send failed")
		return res, err
	}

	res := &models.ChannelResult{
		Channel: models.ChannelLINE,
		Success: true,
		SentAt:  a.now(),
	}
	if raw != nil {
		res.ProviderMessageID = raw.RequestID
		res.Meta = rawMeta(raw)
	}
	a.logger.Debug().
		Str("channel", models.ChannelLINE).
		Str("provider_id", res.ProviderMessageID).
		Msg("line adapter send succeeded")
	return res, nil
}

// Multicast sends the same message to many LINE users, splitting the
// recipient set into sequential batches of at most the provider limit.
// Each batch produces its own result; the slice holds one entry per
// batch in order.
func (a *Adapter) Multicast(ctx context.Context, userIDs []string, msg *common.Message) ([]*models.ChannelResult, error) {
	if len(userIDs) == 0 {
		return nil, common.WrapValidation(errors.New("line adapter: at least one recipient is required"))
	}
	if msg == nil {
		return nil, common.WrapValidation(errors.New("line adapter: message is required"))
	}

	messages := buildMessages(msg)
	var results []*models.ChannelResult
	var firstErr error

	for start := 0; start < len(userIDs); start += lineprovider.MulticastLimit {
		end := start + lineprovider.MulticastLimit
		if end > len(userIDs) {
			end = len(userIDs)
		}
		batch := userIDs[start:end]

		batchCtx, cancel := context.WithTimeout(ctx, a.timeout)
		raw, err := a.provider.Multicast(batchCtx, &lineprovider.MulticastPayload{
			To:       batch,
			Messages: messages,
			Meta:     msg.Meta,
		})
		cancel()

		if err != nil {
			classified := classify(raw, err)
			if firstErr == nil {
				firstErr = classified
			}
			res := a.failure(classified)
			if raw != nil {
				res.ProviderMessageID = raw.RequestID
			}
			results = append(results, res)
			a.logger.Warn().
				Int("batch_size", len(batch)).
				Err(err).
				Msg("line adapter multicast batch failed")
			continue
		}

		res := &models.ChannelResult{
			Channel: models.ChannelLINE,
			Success: true,
			SentAt:  a.now(),
		}
		if raw != nil {
			res.ProviderMessageID = raw.RequestID
		}
		results = append(results, res)
	}

	return results, firstErr
}

func (a *Adapter) failure(err error) *models.ChannelResult {
	return &models.ChannelResult{
		Channel: models.ChannelLINE,
		Success: false,
		Error:   err.Error(),
		SentAt:  a.now(),
	}
}

// buildMessages prefers the flex payload and falls back to plain text.
func buildMessages(msg *common.Message) []map[string]any {
	if msg.Flex != nil {
		return []map[string]any{
			{
				"type":     "flex",
				"altText":  altText(msg),
				"contents": msg.Flex,
			},
		}
	}
	return []map[string]any{
		{
			"type": "text",
			"text": msg.Text,
		},
	}
}

func altText(msg *common.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return "お知らせがあります"
}

func classify(raw *lineprovider.RawResponse, err error) error {
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

func rawMeta(raw *lineprovider.RawResponse) map[string]string {
	meta := map[string]string{}
	if raw.RequestID != "" {
		meta["request_id"] = raw.RequestID
	}
	if raw.Code != 0 {
		meta["status_code"] = fmt.Sprintf("%d", raw.Code)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
