// Package line talks to the LINE Messaging API push and multicast
// endpoints.
package line

import (
	"context"
	"time"
)

// MulticastLimit is the hard provider cap on recipients per multicast
// call. Larger recipient sets must be split by the caller.
const MulticastLimit = 500

// PushPayload addresses a single recipient with one or more message
// objects in the Messaging API wire format.
type PushPayload struct {
	To       string
	Messages []map[string]any
	Meta     map[string]string
}

// MulticastPayload addresses up to MulticastLimit recipients with the
// same message objects.
type MulticastPayload struct {
	To       []string
	Messages []map[string]any
	Meta     map[string]string
}

// RawResponse describes the low-level provider response.
type RawResponse struct {
	RequestID string
	Code      int
	Body      string
	Timestamp time.Time
}

// Provider is the outbound LINE contract.
type Provider interface {
	Push(ctx context.Context, payload *PushPayload) (*RawResponse, error)
	Multicast(ctx context.Context, payload *MulticastPayload) (*RawResponse, error)
}
