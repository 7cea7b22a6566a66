package line

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

// Scenario enumerates the mock behaviours supported by the LINE provider.
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

// MockProvider is a deterministic LINE provider used for tests. It
// records every payload it receives.
type MockProvider struct {
	logger          zerolog.Logger
	defaultScenario Scenario
	now             func() time.Time

	mu         sync.Mutex
	Pushes     []*PushPayload
	Multicasts []*MulticastPayload
	Replies    []string
}

// NewMockProvider constructs a mock LINE provider.
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

// Push simulates a push call according to the configured scenario.
func (p *MockProvider) Push(ctx context.Context, payload *PushPayload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("line mock: payload is required")
	}
	p.mu.Lock()
	p.Pushes = append(p.Pushes, payload)
	p.mu.Unlock()
	return p.respond(ctx, payload.Meta)
}

// Multicast simulates a multicast call. Oversized batches are rejected
// like the real endpoint would.
func (p *MockProvider) Multicast(ctx context.Context, payload *MulticastPayload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("line mock: payload is required")
	}
	if len(payload.To) > MulticastLimit {
		return nil, fmt.Errorf("line mock: multicast batch too large: %d", len(payload.To))
	}
	p.mu.Lock()
	p.Multicasts = append(p.Multicasts, payload)
	p.mu.Unlock()
	return p.respond(ctx, payload.Meta)
}

// Reply records the reply token so tests can assert reactive replies.
func (p *MockProvider) Reply(ctx context.Context, replyToken string, messages []map[string]any) (*RawResponse, error) {
	p.mu.Lock()
	p.Replies = append(p.Replies, replyToken)
	p.mu.Unlock()
	return p.respond(ctx, nil)
}

func (p *MockProvider) respond(ctx context.Context, meta map[string]string) (*RawResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	scenario := p.defaultScenario
	if val, ok := meta["scenario"]; ok && strings.TrimSpace(val) != "" {
		scenario = Scenario(strings.ToLower(strings.TrimSpace(val)))
	}

	resp := &RawResponse{
		RequestID: uuid.NewString(),
		Code:      200,
		Body:      "{}",
		Timestamp: p.now(),
	}

	switch scenario {
	case ScenarioSuccess:
		return resp, nil
	case ScenarioTransient:
		resp.Code = 500
		resp.Body = `{"message":"internal error"}`
		return resp, fmt.Errorf("line mock transient error: server error")
	case ScenarioPermanent:
		resp.Code = 400
		resp.Body = `{"message":"invalid user id"}`
		return resp, fmt.Errorf("line mock permanent error: invalid recipient")
	case ScenarioTimeout:
		<-ctx.Done()
		return resp, ctx.Err()
	default:
		resp.Code = 0
		return resp, fmt.Errorf("line mock unknown scenario: %s", scenario)
	}
}
