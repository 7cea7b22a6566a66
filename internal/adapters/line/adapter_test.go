package line_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/adapters/common"
	lineadapter "github.com/example/clinic-notify/internal/adapters/line"
	lineprovider "github.com/example/clinic-notify/internal/providers/line"
)

func newAdapter(t *testing.T, opts ...lineprovider.MockOption) (*lineadapter.Adapter, *lineprovider.MockProvider) {
	t.Helper()
	provider := lineprovider.NewMockProvider(zerolog.New(io.Discard), opts...)
	adapter, err := lineadapter.NewAdapter(provider, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return adapter, provider
}

func userIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("U%04d", i)
	}
	return ids
}

func TestSendPushSuccess(t *testing.T) {
	adapter, provider := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "U1",
		Text: "検診のお知らせ",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success || res.ProviderMessageID == "" {
		t.Fatalf("expected success with request id, got %+v", res)
	}
	if len(provider.Pushes) != 1 {
		t.Fatalf("expected one push, got %d", len(provider.Pushes))
	}
}

func TestSendPermanentFailureIsNotRetryable(t *testing.T) {
	adapter, _ := newAdapter(t)

	res, err := adapter.Send(context.Background(), &common.Message{
		To:   "U1",
		Text: "検診のお知らせ",
		Meta: map[string]string{"scenario": "permanent"},
	})
	if err == nil || res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if common.Retryable(err) {
		t.Fatal("a 4xx provider rejection must not be retryable")
	}
}

func TestSendFlexPayloadPreferred(t *testing.T) {
	adapter, provider := newAdapter(t)

	flex := map[string]any{"type": "bubble"}
	if _, err := adapter.Send(context.Background(), &common.Message{
		To:   "U1",
		Text: "alt",
		Flex: flex,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	messages := provider.Pushes[0].Messages
	if len(messages) != 1 || messages[0]["type"] != "flex" {
		t.Fatalf("expected flex message, got %+v", messages)
	}
	if messages[0]["altText"] != "alt" {
		t.Fatalf("alt text lost, got %+v", messages[0])
	}
}

func TestMulticastSplitsOversizedBatch(t *testing.T) {
	adapter, provider := newAdapter(t)

	results, err := adapter.Multicast(context.Background(), userIDs(1201), &common.Message{
		Text: "臨時休診のお知らせ",
	})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 batch results, got %d", len(results))
	}
	if len(provider.Multicasts) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(provider.Multicasts))
	}

	sizes := []int{
		len(provider.Multicasts[0].To),
		len(provider.Multicasts[1].To),
		len(provider.Multicasts[2].To),
	}
	if sizes[0] != lineprovider.MulticastLimit || sizes[1] != lineprovider.MulticastLimit || sizes[2] != 201 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
	for i, res := range results {
		if !res.Success {
			t.Fatalf("batch %d failed: %+v", i, res)
		}
	}
}

func TestMulticastWithinLimitSingleCall(t *testing.T) {
	adapter, provider := newAdapter(t)

	results, err := adapter.Multicast(context.Background(), userIDs(500), &common.Message{Text: "お知らせ"})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if len(results) != 1 || len(provider.Multicasts) != 1 {
		t.Fatalf("expected a single batch, got %d results, %d calls", len(results), len(provider.Multicasts))
	}
}

func TestMulticastRequiresRecipients(t *testing.T) {
	adapter, _ := newAdapter(t)

	_, err := adapter.Multicast(context.Background(), nil, &common.Message{Text: "お知らせ"})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
