package sms_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	smsadapter "github.com/example/clinic-notify/internal/adapters/sms"
	smsprovider "github.com/example/clinic-notify/internal/providers/sms"
	"github.com/example/clinic-notify/internal/util"
)

func newAdapter(t *testing.T) (*smsadapter.Adapter, *smsprovider.MockProvider) {
	t.Helper()
	provider := smsprovider.NewMockProvider(zerolog.New(io.Discard))
	adapter, err := smsadapter.NewAdapter(provider, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return adapter, provider
}

func TestSendNormalizesNationalNumber(t *testing.T) {
	adapter, provider := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "090-1234-5678",
		Text: "検診のご案内です。",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(provider.Sent) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(provider.Sent))
	}
	if got := provider.Sent[0].To; got != "+819012345678" {
		t.Fatalf("expected normalized number, got %q", got)
	}
}

func TestSendRejectsMalformedNumberBeforeTransport(t *testing.T) {
	adapter, provider := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "123",
		Text: "検診のご案内です。",
	})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.Success {
		t.Fatal("validation failure must produce a failed result")
	}
	if len(provider.Sent) != 0 {
		t.Fatal("malformed number must never reach the gateway")
	}
	if common.Retryable(err) {
		t.Fatal("validation failures must not consume a retry slot")
	}
}

func TestSendTruncatesLongBody(t *testing.T) {
	adapter, provider := newAdapter(t)

	long := strings.Repeat("あ", 200)
	if _, err := adapter.Send(context.Background(), &common.Message{
		To:   "09012345678",
		Text: long,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	body := provider.Sent[0].Body
	if got := len([]rune(body)); got != util.SMSMaxRunes {
		t.Fatalf("expected %d runes, got %d", util.SMSMaxRunes, got)
	}
	if !strings.HasSuffix(body, "...") {
		t.Fatalf("truncated body must end with an ellipsis marker, got %q", body[len(body)-12:])
	}
}

func TestSendTransientGatewayFailure(t *testing.T) {
	adapter, _ := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "09012345678",
		Text: "検診のご案内です。",
		Meta: map[string]string{"scenario": "transient"},
	})
	if err == nil || res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !common.Retryable(err) {
		t.Fatal("gateway 5xx must be retryable")
	}
}
