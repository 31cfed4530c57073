package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// Verifier authenticates inbound provider callbacks
type Verifier struct {
	lalamoveSecret string
	asaasToken     string
	logger         *zap.Logger
}

// NewVerifier creates a new webhook verifier. An empty secret disables that
// provider's check.
func NewVerifier(lalamoveSecret, asaasToken string, logger *zap.Logger) *Verifier {
	return &Verifier{
		lalamoveSecret: lalamoveSecret,
		asaasToken:     asaasToken,
		logger:         logger,
	}
}

// VerifyLalamove checks the hex HMAC-SHA256 of the raw body
func (v *Verifier) VerifyLalamove(signature string, body []byte) bool {
	if v.lalamoveSecret == "" {
		return true
	}
	expected := Sign(v.lalamoveSecret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// VerifyAsaas compares the shared access token in constant time
func (v *Verifier) VerifyAsaas(token string) bool {
	if v.asaasToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.asaasToken)) == 1
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
