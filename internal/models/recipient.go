package models

import "strings"

// Recipient is the read-only projection of a patient record that the
// notification core needs: one optional identifier per channel plus the
// per-channel consent flags maintained by the booking system.
type Recipient struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	LineUserID string `json:"line_user_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`

	LineOptOut  bool `json:"line_opt_out,omitempty"`
	EmailOptOut bool `json:"email_opt_out,omitempty"`
	SMSOptOut   bool `json:"sms_opt_out,omitempty"`
}

// CanReceive reports whether the recipient has a usable identifier for
// the channel and has not opted out of it. An opted-out channel is
// treated exactly like a missing identifier.
func (r *Recipient) CanReceive(channel string) bool {
	if r == nil {
		return false
	}
	switch channel {
	case ChannelLINE:
		return !r.LineOptOut && strings.TrimSpace(r.LineUserID) != ""
	case ChannelEmail:
		return !r.EmailOptOut && strings.TrimSpace(r.Email) != ""
	case ChannelSMS:
		return !r.SMSOptOut && strings.TrimSpace(r.Phone) != ""
	}
	return false
}

// ChannelIdentifier returns the raw identifier used to address the
// recipient on the given channel, or an empty string when absent.
func (r *Recipient) ChannelIdentifier(channel string) string {
	if r == nil {
		return ""
	}
	switch channel {
	case ChannelLINE:
		return strings.TrimSpace(r.LineUserID)
	case ChannelEmail:
		return strings.TrimSpace(r.Email)
	case ChannelSMS:
		return strings.TrimSpace(r.Phone)
	}
	return ""
}

// Reachable reports whether at least one channel can receive for this
// recipient. The dispatcher fails fast with a no-contact error when
// this is false.
func (r *Recipient) Reachable() bool {
	for _, ch := range FallbackOrder {
		if r.CanReceive(ch) {
			return true
		}
	}
	return false
}
