package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

// SpectatorAudience is stamped on tokens that admit a client to the live race feed.
const SpectatorAudience = "duckrace-spectator"

// Claims is the payload carried by spectator tokens.
type Claims struct {
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type wireClaims struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud,omitempty"`
	Issued   int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// IssueToken mints an HS256 compact token for subject valid for ttl from now.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	key := strings.TrimSpace(secret)
	if key == "" {
		return "", errors.New("hmac secret must not be empty")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	header, err := json.Marshal(wireHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(wireClaims{
		Subject:  subject,
		Audience: SpectatorAudience,
		Issued:   now.Unix(),
		Expires:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := encodeSegment(header) + "." + encodeSegment(payload)
	return signingInput + "." + encodeSegment(sum([]byte(key), []byte(signingInput))), nil
}

// Verifier validates spectator tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewVerifier constructs a verifier for the supplied shared secret and clock skew allowance.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the verifier clock for deterministic tests.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify checks the signature, audience and expiry and returns the embedded claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Header must announce HS256 before any signature work is done.
	var header wireHeader
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Constant-time signature comparison over header.payload.
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, sum(v.secret, []byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	//3.- Claims.
	var payload wireClaims
	if err := decodeJSONSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	if payload.Audience != "" && payload.Audience != SpectatorAudience {
		return nil, fmt.Errorf("%w: audience %q", ErrInvalidToken, payload.Audience)
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	return &Claims{
		Subject:   payload.Subject,
		Audience:  payload.Audience,
		IssuedAt:  time.Unix(payload.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}

func sum(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeJSONSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
