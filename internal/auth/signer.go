package auth

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// ErrBadSignature is returned when a signed payload does not match its signature.
var ErrBadSignature = errors.New("signature mismatch")

// Signer authenticates race outcomes so clients can trust results relayed by third parties.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for secret. An empty secret yields a nil signer that signs nothing.
func NewSigner(secret string) *Signer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &Signer{key: []byte(secret)}
}

// Sign returns the base64url HMAC-SHA256 of value's JSON encoding.
func (s *Signer) Sign(value any) (string, error) {
	if s == nil {
		return "", nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return encodeSegment(sum(s.key, payload)), nil
}

// Verify checks signature against value.
func (s *Signer) Verify(value any, signature string) error {
	if s == nil {
		return errors.New("signer not configured")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(raw, sum(s.key, payload)) {
		return ErrBadSignature
	}
	return nil
}
