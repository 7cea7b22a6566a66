package webhook

// Envelope is the decoded webhook request body. Field names follow the
// LINE Messaging API payload.
type Envelope struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is a single webhook event inside an envelope.
type Event struct {
	Type           string    `json:"type"`
	WebhookEventID string    `json:"webhookEventId"`
	Timestamp      int64     `json:"timestamp"`
	ReplyToken     string    `json:"replyToken,omitempty"`
	Source         Source    `json:"source"`
	Message        *Message  `json:"message,omitempty"`
	Postback       *Postback `json:"postback,omitempty"`
}

// Source identifies the sender of an event.
type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Message carries the user message for message events. Only text
// messages are keyword-matched; other content types fall through to
// the generic reply.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// Postback carries the raw postback payload. Data is parsed once at
// this boundary via ParsePostbackData.
type Postback struct {
	Data string `json:"data"`
}
