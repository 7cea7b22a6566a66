package models

// Channel identifiers for the supported outbound transports.
const (
	ChannelLINE  = "line"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// FallbackOrder is the fixed priority in which channels are attempted.
// The dispatcher walks this slice and skips channels the recipient
// cannot receive.
var FallbackOrder = []string{ChannelLINE, ChannelEmail, ChannelSMS}

// NotificationType classifies the semantic intent of an outbound
// notification. Content templates are keyed on it.
type NotificationType string

const (
	TypeReminderSevenDay NotificationType = "reminder_7d"
	TypeReminderThreeDay NotificationType = "reminder_3d"
	TypeReminderOneDay   NotificationType = "reminder_1d"
	TypeConfirmation     NotificationType = "confirmation"
	TypeCancellation     NotificationType = "cancellation"
	TypeChange           NotificationType = "change"
	TypeGeneric          NotificationType = "generic"
)

// Known reports whether the type has a dedicated template. Unknown
// types render through the generic template instead of erroring.
func (t NotificationType) Known() bool {
	switch t {
	case TypeReminderSevenDay, TypeReminderThreeDay, TypeReminderOneDay,
		TypeConfirmation, TypeCancellation, TypeChange, TypeGeneric:
		return true
	}
	return false
}
