// Package signedpayload verifies the base64/HMAC-SHA256 envelopes the commerce
// platform attaches to server-to-server callbacks (load, uninstall, remove-user
// and the events dispatcher).
//
// Wire format:
//
//	base64(payloadJSON) + "." + base64(hex(hmac_sha256(secret, payloadJSON)))
package signedpayload

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// User is the platform user a payload was issued for
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Payload is the decoded body of a verified signed payload
type Payload struct {
	User      User    `json:"user"`
	Owner     User    `json:"owner"`
	Context   string  `json:"context"`
	StoreHash string  `json:"store_hash"`
	Timestamp float64 `json:"timestamp"`
	Event     string  `json:"event"`
	OAuthCode string  `json:"oauth_code"`
	Scope     string  `json:"scope"`

	// Raw is the verified JSON exactly as signed
	Raw json.RawMessage `json:"-"`
}

// Verify checks the signature of signedPayload against secret and returns the
// decoded JSON body. It returns false for empty input, malformed base64,
// malformed JSON or a signature mismatch.
func Verify(signedPayload string, secret []byte) (json.RawMessage, bool) {
	if signedPayload == "" || len(secret) == 0 {
		return nil, false
	}

	parts := strings.SplitN(signedPayload, ".", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}

	payload, ok := decode(parts[0])
	if !ok {
		return nil, false
	}
	provided, ok := decode(parts[1])
	if !ok {
		return nil, false
	}

	if !secureCompare(digest(secret, payload), provided) {
		return nil, false
	}
	if !json.Valid(payload) {
		return nil, false
	}
	return json.RawMessage(payload), true
}

// Parse verifies signedPayload and decodes it into a Payload
func Parse(signedPayload string, secret []byte) (*Payload, bool) {
	raw, ok := Verify(signedPayload, secret)
	if !ok {
		return nil, false
	}
	p := &Payload{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, false
	}
	p.Raw = raw
	return p, true
}

// Sign produces a signed payload for the given JSON body
func Sign(payload []byte, secret []byte) string {
	return base64.StdEncoding.EncodeToString(payload) + "." +
		base64.StdEncoding.EncodeToString(digest(secret, payload))
}

// digest returns the lowercase hex HMAC-SHA256 of payload
func digest(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

// secureCompare compares a and b in time independent of where they differ.
// Length is not secret, so a length mismatch returns early.
func secureCompare(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func decode(s string) ([]byte, bool) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}
