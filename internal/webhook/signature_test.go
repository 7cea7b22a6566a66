package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/webhook"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsMatchingPair(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"events":[]}`)

	if err := webhook.VerifySignature(secret, body, sign(secret, body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"events":[]}`)
	signature := sign(secret, body)

	tampered := append([]byte(nil), body...)
	tampered[0] = '['

	err := webhook.VerifySignature(secret, tampered, signature)
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestVerifySignatureRejectsMissingHeader(t *testing.T) {
	err := webhook.VerifySignature("channel-secret", []byte(`{}`), "")
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestVerifySignatureRejectsEmptySecret(t *testing.T) {
	body := []byte(`{}`)
	err := webhook.VerifySignature("", body, sign("", body))
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}
