package webhook

import (
	"errors"
	"strings"

	"github.com/example/clinic-notify/internal/adapters/common"
)

// PostbackData is the parsed form of a postback payload such as
// "action=confirm&appointment_id=apt-42".
type PostbackData struct {
	Action        string
	AppointmentID string
}

// ParsePostbackData decodes the ampersand-separated key=value pairs of
// a postback payload. Unknown keys are ignored; a payload without an
// action is rejected.
func ParsePostbackData(raw string) (*PostbackData, error) {
	if raw == "" {
		return nil, common.WrapValidation(errors.New("postback data is empty"))
	}

	data := &PostbackData{}
	for _, pair := range strings.Split(raw, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch key {
		case "action":
			data.Action = value
		case "appointment_id":
			data.AppointmentID = value
		}
	}
	if data.Action == "" {
		return nil, common.WrapValidation(errors.New("postback data has no action"))
	}
	return data, nil
}
