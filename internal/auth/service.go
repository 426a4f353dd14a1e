package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/raisan/backend-ads/internal/common"
)

// Service validates access tokens issued elsewhere. This engine never mints
// tokens; it only needs the authenticated subject.
type Service struct {
	secret    []byte
	algorithm jwa.SignatureAlgorithm
	clockSkew time.Duration
	now       func() time.Time
}

// NewService constructs a validator over a shared HMAC secret.
func NewService(secret string) (*Service, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Service{
		secret:    []byte(trimmed),
		algorithm: jwa.HS256,
		clockSkew: 30 * time.Second,
		now:       time.Now,
	}, nil
}

// ParseAccessToken validates the token and returns its subject.
func (s *Service) ParseAccessToken(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	parsed, err := jwt.ParseString(trimmed,
		jwt.WithKey(s.algorithm, s.secret),
		jwt.WithClock(jwt.ClockFunc(s.now)),
		jwt.WithAcceptableSkew(s.clockSkew),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	subject := strings.TrimSpace(parsed.Subject())
	if subject == "" {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, errors.New("auth: token has no subject"))
	}
	return subject, nil
}
