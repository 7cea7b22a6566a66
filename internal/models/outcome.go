package models

import "time"

// ChannelResult is the normalized, transient result every channel
// adapter returns. It is never persisted on its own; the dispatcher
// folds it into a DeliveryAttempt row.
type ChannelResult struct {
	Channel           string            `json:"channel"`
	Success           bool              `json:"success"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	Error             string            `json:"error,omitempty"`
	Meta              map[string]string `json:"meta,omitempty"`
	SentAt            time.Time         `json:"sent_at"`
}

// DispatchOutcome aggregates every channel attempt made for a single
// notification request. At most one result in Attempts is successful;
// the dispatcher stops at the first success.
type DispatchOutcome struct {
	Success        bool            `json:"success"`
	WinningChannel string          `json:"winning_channel,omitempty"`
	Attempts       []ChannelResult `json:"attempts"`
	TotalAttempts  int             `json:"total_attempts"`
}

// FailureSummary joins the per-channel errors for diagnostics on an
// exhausted dispatch.
func (o *DispatchOutcome) FailureSummary() string {
	if o == nil || o.Success {
		return ""
	}
	var sb []byte
	for i, att := range o.Attempts {
		if i > 0 {
			sb = append(sb, "; "...)
		}
		sb = append(sb, att.Channel...)
		sb = append(sb, ": "...)
		sb = append(sb, att.Error...)
	}
	return string(sb)
}
