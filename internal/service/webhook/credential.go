package webhook

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Credential produces the bearer token attached to one outbound call.
type Credential interface {
	Token(sessionID, requestID string, now time.Time) (string, error)
}

// StaticToken sends the same pre-shared token on every call.
type StaticToken string

func (t StaticToken) Token(string, string, time.Time) (string, error) {
	return string(t), nil
}

const (
	defaultTokenTTL    = 5 * time.Minute
	defaultTokenIssuer = "chat-relay"
)

// SignedToken mints a short-lived HS256 JWT per call, binding the token to
// the session and the request id so the receiver can reject replays.
type SignedToken struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

func (s SignedToken) Token(sessionID, requestID string, now time.Time) (string, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issuer := s.Issuer
	if issuer == "" {
		issuer = defaultTokenIssuer
	}

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sessionID,
		ID:        requestID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", errors.Wrap(err, "sign webhook token")
	}
	return signed, nil
}
