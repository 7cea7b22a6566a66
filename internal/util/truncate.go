package util

import "unicode/utf8"

// SMSMaxRunes is the single-segment limit enforced by the SMS
// transport. Longer bodies are rejected by the provider, so they are
// truncated locally instead.
const SMSMaxRunes = 160

const smsEllipsis = "..."

// TruncateSMS trims a message body to SMSMaxRunes runes, replacing the
// tail with an ellipsis marker when truncation occurs. Bodies already
// within the limit are returned unchanged, so the function is
// idempotent.
func TruncateSMS(body string) string {
	if utf8.RuneCountInString(body) <= SMSMaxRunes {
		return body
	}
	runes := []rune(body)
	keep := SMSMaxRunes - utf8.RuneCountInString(smsEllipsis)
	return string(runes[:keep]) + smsEllipsis
}
