package coordinator

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// tokenWindow bounds how far a token's timestamp may drift from the
// verifier's clock in either direction.
const tokenWindow = 5 * time.Minute

// tokenDigestLen is the number of hex characters of the keyed hash carried
// on the wire.
const tokenDigestLen = 16

// TokenService mints and verifies the short-lived tokens used on the
// coordinator-node channel. Tokens are stateless: validity is recomputed
// from the embedded timestamp and the shared secret.
//
// Wire format: base64(<unix-timestamp> ":" <16-hex-char digest>), where the
// digest is a truncated HMAC-SHA256 of the decimal timestamp.
type TokenService struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewTokenService returns a TokenService keyed with the given shared secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		window: tokenWindow,
		now:    time.Now,
	}
}

// Mint returns a fresh token stamped with the current time.
func (s *TokenService) Mint() string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return base64.StdEncoding.EncodeToString([]byte(ts + ":" + s.digest(ts)))
}

// Verify checks a token's structure, digest, and time window. Any decode
// failure or malformed structure is ErrTokenInvalid; a valid digest outside
// the window is ErrTokenExpired.
func (s *TokenService) Verify(token string) error {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenInvalid
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return ErrTokenInvalid
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}

	want := s.digest(parts[0])
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(want)) != 1 {
		return ErrTokenInvalid
	}

	drift := s.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(s.window/time.Second) {
		return ErrTokenExpired
	}

	return nil
}

func (s *TokenService) digest(ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))[:tokenDigestLen]
}
