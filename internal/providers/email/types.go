// Package email delivers notification mail over SMTP.
package email

import (
	"context"
	"time"
)

// Payload is the canonical representation of an outbound email.
type Payload struct {
	MessageID string
	From      string
	To        string
	Subject   string
	Body      string
	Meta      map[string]string
}

// RawResponse mirrors the low level provider response that the adapter
// inspects to derive a ChannelResult.
type RawResponse struct {
	ID        string
	Code      int
	Body      string
	Timestamp time.Time
}

// Provider is the contract exposed by the email provider implementation.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
