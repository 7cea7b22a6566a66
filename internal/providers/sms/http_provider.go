package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

// WithHTTPClient overrides the HTTP client used to talk to the gateway.
func WithHTTPClient(client HTTPClient) Option {
	return func(p *HTTPProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithBaseURL sets the base gateway URL. Useful for tests.
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

// HTTPProvider implements Provider against a Twilio-compatible REST
// API using form-encoded message creation.
type HTTPProvider struct {
	logger       zerolog.Logger
	httpClient   HTTPClient
	baseURL      string
	accountSID   string
	authToken    string
	from         string
	now          func() time.Time
	breaker      *gobreaker.CircuitBreaker
	maxBodyBytes int64
}

// NewHTTPProvider constructs a provider from the SMS configuration.
func NewHTTPProvider(cfg config.SMSConfig, logger zerolog.Logger, opts ...Option) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("sms provider: account sid is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("sms provider: auth token is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("sms provider: from number is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &HTTPProvider{
		logger:       logger,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		from:         cfg.FromNumber,
		now:          time.Now,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.twilio.com"
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sms-gateway",
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

// Send delivers one SMS through the gateway.
func (p *HTTPProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("sms provider: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("sms provider: recipient is required")
	}
	if strings.TrimSpace(payload.Body) == "" {
		return nil, errors.New("sms provider: body is required")
	}

	from := strings.TrimSpace(payload.From)
	if from == "" {
		from = p.from
	}

	form := url.Values{}
	form.Set("To", payload.To)
	form.Set("From", from)
	form.Set("Body", payload.Body)

	result, err := p.breaker.Execute(func() (any, error) {
		return p.doRequest(ctx, form)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("sms provider: circuit open: %w", err)
		}
		if resp, ok := result.(*RawResponse); ok {
			return resp, err
		}
		return nil, err
	}

	resp := result.(*RawResponse)
	if resp.Code >= http.StatusBadRequest {
		return resp, fmt.Errorf("sms provider: gateway returned status %d", resp.Code)
	}
	return resp, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, form url.Values) (*RawResponse, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("sms provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms provider: request: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, readErr := io.ReadAll(io.LimitReader(httpResp.Body, p.maxBodyBytes))
	if readErr != nil {
		p.logger.Warn().Err(readErr).Msg("sms provider: failed to read response body")
	}

	resp := &RawResponse{
		Code:      httpResp.StatusCode,
		Body:      string(bodyBytes),
		Timestamp: p.now(),
	}
	resp.ID, resp.Status = parseGatewayBody(bodyBytes)

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return resp, fmt.Errorf("sms provider: gateway returned status %d", httpResp.StatusCode)
	}
	return resp, nil
}

// parseGatewayBody extracts the message sid and status from a Twilio
// style JSON body. Parsing failures are not errors; the raw body is
// retained either way.
func parseGatewayBody(body []byte) (string, string) {
	if len(body) == 0 {
		return "", ""
	}
	var parsed struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", ""
	}
	return parsed.Sid, parsed.Status
}
