package email_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	emailadapter "github.com/example/clinic-notify/internal/adapters/email"
	emailprovider "github.com/example/clinic-notify/internal/providers/email"
)

func newAdapter(t *testing.T) (*emailadapter.Adapter, *emailprovider.MockProvider) {
	t.Helper()
	provider := emailprovider.NewMockProvider(zerolog.New(io.Discard))
	adapter, err := emailadapter.NewAdapter(provider, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return adapter, provider
}

func TestSendSuccess(t *testing.T) {
	adapter, provider := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:      "tanaka@example.com",
		Subject: "ご予約確認",
		Text:    "ご予約ありがとうございます。",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(provider.Sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(provider.Sent))
	}
	if provider.Sent[0].Subject != "ご予約確認" {
		t.Fatalf("subject lost, got %q", provider.Sent[0].Subject)
	}
}

func TestSendMissingAddressIsValidation(t *testing.T) {
	adapter, provider := newAdapter(t)

	_, err := adapter.Send(context.Background(), &common.Message{Subject: "x", Text: "y"})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(provider.Sent) != 0 {
		t.Fatal("missing address must never reach the transport")
	}
}

func TestSendTransientSMTPCodeIsRetryable(t *testing.T) {
	adapter, _ := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "tanaka@example.com",
		Text: "y",
		Meta: map[string]string{"scenario": "transient"},
	})
	if err == nil || res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !common.Retryable(err) {
		t.Fatal("a 451 reply must be retryable")
	}
}

func TestSendPermanentSMTPCodeIsNotRetryable(t *testing.T) {
	adapter, _ := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "tanaka@example.com",
		Text: "y",
		Meta: map[string]string{"scenario": "permanent"},
	})
	if err == nil || res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if common.Retryable(err) {
		t.Fatal("a 550 reply must not be retryable")
	}
}
