package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
)

// OptOutTokenCodec signs the one-click opt-out links embedded in outgoing
// feedback requests, so the public endpoint can trust them without a login.
type OptOutTokenCodec struct {
	secret []byte
	maxAge time.Duration
}

// NewOptOutTokenCodec builds a codec with the given HMAC secret. A maxAge of
// zero disables expiry.
func NewOptOutTokenCodec(secret string, maxAge time.Duration) *OptOutTokenCodec {
	return &OptOutTokenCodec{secret: []byte(secret), maxAge: maxAge}
}

func (c *OptOutTokenCodec) Encode(sessionID, recipientID int64, issuedAt time.Time) (string, error) {
	if sessionID <= 0 || recipientID <= 0 {
		return "", ErrTokenMalformed
	}
	payload := fmt.Sprintf("%d.%d.%d", sessionID, recipientID, issuedAt.Unix())
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(c.sign(payload)), nil
}

func (c *OptOutTokenCodec) Decode(token string) (int64, int64, time.Time, error) {
	encodedPayload, encodedSig, found := strings.Cut(token, ".")
	if !found {
		return 0, 0, time.Time{}, ErrTokenMalformed
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return 0, 0, time.Time{}, ErrTokenMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return 0, 0, time.Time{}, ErrTokenMalformed
	}
	payload := string(payloadBytes)
	if !hmac.Equal(sig, c.sign(payload)) {
		return 0, 0, time.Time{}, ErrTokenSignature
	}

	var sessionID, recipientID, issuedUnix int64
	if _, err := fmt.Sscanf(payload, "%d.%d.%d", &sessionID, &recipientID, &issuedUnix); err != nil {
		return 0, 0, time.Time{}, ErrTokenMalformed
	}
	if sessionID <= 0 || recipientID <= 0 {
		return 0, 0, time.Time{}, ErrTokenMalformed
	}

	issuedAt := time.Unix(issuedUnix, 0).UTC()
	if c.maxAge > 0 && time.Since(issuedAt) > c.maxAge {
		return 0, 0, time.Time{}, ErrTokenExpired
	}
	return sessionID, recipientID, issuedAt, nil
}

func (c *OptOutTokenCodec) sign(payload string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
