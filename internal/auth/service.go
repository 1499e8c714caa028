// Package auth guards the admin API with a shared secret or an HS256 token
// signed with that secret.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoSubject    = errors.New("token subject is required")
)

type Service struct {
	secret     []byte
	configured bool
	ttl        time.Duration
	now        func() time.Time
}

// NewService signs with secret. An empty secret gets an ephemeral random key,
// so tokens only live as long as the process and the raw secret never matches.
func NewService(secret string, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{ttl: DefaultTokenTTL, now: time.Now}

	secret = strings.TrimSpace(secret)
	if secret != "" {
		s.secret = []byte(secret)
		s.configured = true
		return s, nil
	}

	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate fallback secret: %w", err)
	}
	s.secret = []byte(base64.RawURLEncoding.EncodeToString(buf))
	logger.Warn("ADMIN_SECRET is not set; using an ephemeral in-memory signing key")
	return s, nil
}

// WithTTL changes how long issued tokens stay valid.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// CheckSecret compares a presented shared secret in constant time.
func (s *Service) CheckSecret(presented string) bool {
	if !s.configured || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), s.secret) == 1
}

// IssueToken signs an admin token for subject.
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, ErrNoSubject
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken validates a token and returns its subject.
func (s *Service) ParseToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
