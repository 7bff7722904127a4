package tools

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Webhook-Hmac"

// SignatureAlgorithmHeader is sent by the gateway alongside the signature.
const SignatureAlgorithmHeader = "X-Webhook-Hmac-Algorithm"

// SignSHA512 returns the hex HMAC-SHA512 of body keyed with secret.
func SignSHA512(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA512 of body.
// An empty secret or signature, or a value that is not hex, is invalid.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	// Some senders prefix the algorithm, as in "sha512=<hex>".
	signature = strings.TrimPrefix(signature, "sha512=")

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
