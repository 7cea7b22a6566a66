package common

import (
	"context"

	"github.com/example/clinic-notify/internal/models"
)

// Message is the channel-neutral payload handed to an adapter. The
// content builder fills the channel-specific fields; each adapter reads
// only the ones it understands.
type Message struct {
	// Recipient identifier on the target channel: LINE user id, email
	// address, or phone number.
	To string
	// Text is the plain body used by SMS and as the LINE fallback alt
	// text.
	Text string
	// Subject is only meaningful for email.
	Subject string
	// Flex carries the structured LINE payload when present.
	Flex map[string]any
	// Meta is opaque correlation metadata forwarded to the provider.
	Meta map[string]string
}

// Adapter is the uniform contract every channel implements. Send
// normalizes provider results into a ChannelResult and classifies
// failures with the sentinel errors in this package; it must never
// panic outward. A non-nil result is returned even on failure so the
// dispatcher can persist what happened.
type Adapter interface {
	Channel() string
	Send(ctx context.Context, msg *Message) (*models.ChannelResult, error)
}
