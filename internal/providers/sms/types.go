// Package sms talks to a Twilio-style SMS gateway.
package sms

import (
	"context"
	"time"
)

// Payload encapsulates the data required to send one SMS. The body is
// expected to already be within the single-segment limit; the adapter
// enforces truncation before building the payload.
type Payload struct {
	MessageID string
	From      string
	To        string
	Body      string
	Meta      map[string]string
}

// RawResponse describes the low-level provider response.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider represents an outbound SMS provider.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
