package sms

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scenario enumerates the mock behaviours supported by the SMS provider.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"
)

// MockOption customises the mock provider.
type MockOption func(*MockProvider)

// WithScenario sets the default scenario used when a payload does not specify one.
func WithScenario(s Scenario) MockOption {
	return func(p *MockProvider) {
		p.defaultScenario = s
	}
}

// WithMockClock overrides the clock used to timestamp responses.
func WithMockClock(now func() time.Time) MockOption {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider is a deterministic SMS provider used for tests.
type MockProvider struct {
	logger          zerolog.Logger
	defaultScenario Scenario
	now             func() time.Time

	mu   sync.Mutex
	Sent []*Payload
}

// NewMockProvider constructs a mock SMS provider.
func NewMockProvider(logger zerolog.Logger, opts ...MockOption) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:          logger,
		defaultScenario: ScenarioSuccess,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Send simulates sending an SMS payload according to the configured scenario.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("sms mock: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("sms mock: recipient is required")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.Lock()
	p.Sent = append(p.Sent, payload)
	p.mu.Unlock()

	scenario := p.defaultScenario
	if val, ok := payload.Meta["scenario"]; ok && strings.TrimSpace(val) != "" {
		scenario = Scenario(strings.ToLower(strings.TrimSpace(val)))
	}

	resp := &RawResponse{
		ID:        "SM" + uuid.NewString(),
		Code:      201,
		Status:    "queued",
		Body:      "mock: message accepted",
		Timestamp: p.now(),
	}

	switch scenario {
	case ScenarioSuccess:
		return resp, nil
	case ScenarioTransient:
		resp.Code = 429
		resp.Status = "transient_failure"
		resp.Body = "mock: rate limited"
		return resp, fmt.Errorf("sms mock transient error: rate limited")
	case ScenarioPermanent:
		resp.Code = 400
		resp.Status = "permanent_failure"
		resp.Body = "mock: invalid recipient"
		return resp, fmt.Errorf("sms mock permanent error: invalid recipient")
	case ScenarioTimeout:
		<-ctx.Done()
		return resp, ctx.Err()
	default:
		resp.Status = "unknown"
		return resp, fmt.Errorf("sms mock unknown scenario: %s", scenario)
	}
}
