package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/example/clinic-notify/internal/config"
)

const defaultMaxBodyBytes = 4096

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises the behaviour of the HTTP provider.
type Option func(*HTTPProvider)

// WithHTTPClient overrides the HTTP client used to talk to the API.
func WithHTTPClient(client HTTPClient) Option {
	return func(p *HTTPProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithBaseURL sets the base API URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *HTTPProvider) {
		if strings.TrimSpace(baseURL) != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *HTTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBreakerSettings replaces the circuit breaker configuration.
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(p *HTTPProvider) {
		p.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// HTTPProvider implements Provider against the real Messaging API. All
// requests run through a circuit breaker so a dead provider trips fast
// instead of burning the timeout on every fallback chain.
type HTTPProvider struct {
	logger       zerolog.Logger
	httpClient   HTTPClient
	baseURL      string
	channelToken string
	now          func() time.Time
	breaker      *gobreaker.CircuitBreaker
	maxBodyBytes int64
}

// NewHTTPProvider constructs a provider from the LINE configuration.
func NewHTTPProvider(cfg config.LINEConfig, logger zerolog.Logger, opts ...Option) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.ChannelToken) == "" {
		return nil, errors.New("line provider: channel token is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &HTTPProvider{
		logger:       logger,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		channelToken: cfg.ChannelToken,
		now:          time.Now,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.line.me"
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "line-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Push sends message objects to a single recipient.
func (p *HTTPProvider) Push(ctx context.Context, payload *PushPayload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("line provider: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("line provider: recipient is required")
	}
	if len(payload.Messages) == 0 {
		return nil, errors.New("line provider: at least one message is required")
	}

	body := map[string]any{
		"to":       payload.To,
		"messages": payload.Messages,
	}
	return p.post(ctx, "/v2/bot/message/push", body)
}

// Multicast sends the same message objects to a batch of recipients.
// The provider rejects more than MulticastLimit recipients per call;
// splitting belongs to the adapter.
func (p *HTTPProvider) Multicast(ctx context.Context, payload *MulticastPayload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("line provider: payload is required")
	}
	if len(payload.To) == 0 {
		return nil, errors.New("line provider: at least one recipient is required")
	}
	if len(payload.To) > MulticastLimit {
		return nil, fmt.Errorf("line provider: multicast supports at most %d recipients, got %d", MulticastLimit, len(payload.To))
	}
	if len(payload.Messages) == 0 {
		return nil, errors.New("line provider: at least one message is required")
	}

	body := map[string]any{
		"to":       payload.To,
		"messages": payload.Messages,
	}
	return p.post(ctx, "/v2/bot/message/multicast", body)
}

// Reply answers a webhook event using its reply token.
func (p *HTTPProvider) Reply(ctx context.Context, replyToken string, messages []map[string]any) (*RawResponse, error) {
	if strings.TrimSpace(replyToken) == "" {
		return nil, errors.New("line provider: reply token is required")
	}
	if len(messages) == 0 {
		return nil, errors.New("line provider: at least one message is required")
	}

	body := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return p.post(ctx, "/v2/bot/message/reply", body)
}

func (p *HTTPProvider) post(ctx context.Context, path string, body map[string]any) (*RawResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("line provider: encode payload: %w", err)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.doRequest(ctx, path, encoded)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("line provider: circuit open: %w", err)
		}
		if resp, ok := result.(*RawResponse); ok {
			return resp, err
		}
		return nil, err
	}

	resp := result.(*RawResponse)
	if resp.Code >= http.StatusBadRequest {
		return resp, fmt.Errorf("line provider: api returned status %d", resp.Code)
	}
	return resp, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, path string, encoded []byte) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("line provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.channelToken)

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line provider: request: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, readErr := io.ReadAll(io.LimitReader(httpResp.Body, p.maxBodyBytes))
	if readErr != nil {
		p.logger.Warn().Err(readErr).Msg("line provider: failed to read response body")
	}

	resp := &RawResponse{
		RequestID: httpResp.Header.Get("X-Line-Request-Id"),
		Code:      httpResp.StatusCode,
		Body:      string(bodyBytes),
		Timestamp: p.now(),
	}

	// Treat server-side failures as errors so the breaker counts them.
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return resp, fmt.Errorf("line provider: api returned status %d", httpResp.StatusCode)
	}
	return resp, nil
}
