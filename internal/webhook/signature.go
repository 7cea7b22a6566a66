package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/example/clinic-notify/internal/adapters/common"
)

// VerifySignature checks the X-Line-Signature header against the raw
// request body. The MAC is HMAC-SHA256 over the exact bytes received,
// base64 encoded, compared in constant time. Any mismatch, including a
// missing header or an unconfigured secret, fails closed.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: channel secret not configured", common.ErrUnauthorized)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature header", common.ErrUnauthorized)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return common.ErrUnauthorized
	}
	return nil
}
