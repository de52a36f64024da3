package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Signature"

// WebhookVerifier authenticates provider callbacks with an HMAC-SHA256 over the raw body.
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier constructs a verifier for the shared secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Sign returns the hex signature for body.
func (v *WebhookVerifier) Sign(body []byte) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("webhook secret missing")
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature, accepting an optional "sha256=" prefix.
func (v *WebhookVerifier) Verify(body []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return fmt.Errorf("missing webhook signature")
	}
	expected, err := v.Sign(body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return fmt.Errorf("invalid webhook signature")
	}
	return nil
}
