package email

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scenario enumerates the mock behaviours supported by the email provider.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
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

// MockProvider is a deterministic email provider used for tests.
type MockProvider struct {
	logger          zerolog.Logger
	defaultScenario Scenario
	now             func() time.Time

	mu   sync.Mutex
	Sent []*Payload
}

// NewMockProvider constructs a mock email provider.
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

// Send simulates delivering the payload according to the configured scenario.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("email mock: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("email mock: recipient is required")
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
		ID:        payload.MessageID,
		Code:      250,
		Body:      "mock: message accepted",
		Timestamp: p.now(),
	}

	switch scenario {
	case ScenarioSuccess:
		return resp, nil
	case ScenarioTransient:
		resp.Code = 451
		resp.Body = "mock: temporary local problem"
		return resp, fmt.Errorf("email mock transient error: greylisted")
	case ScenarioPermanent:
		resp.Code = 550
		resp.Body = "mock: mailbox unavailable"
		return resp, fmt.Errorf("email mock permanent error: mailbox unavailable")
	default:
		resp.Code = 0
		return resp, fmt.Errorf("email mock unknown scenario: %s", scenario)
	}
}
