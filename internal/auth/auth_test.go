package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	s, err := NewService(secret, nil)
	require.NoError(t, err)
	return s
}

func TestIssueAndParseToken(t *testing.T) {
	s := newTestService(t, "top-secret")

	token, exp, err := s.IssueToken("ops")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), exp, time.Minute)

	sub, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	_, _, err = s.IssueToken("  ")
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestParseTokenRejects(t *testing.T) {
	s := newTestService(t, "top-secret")
	other := newTestService(t, "different")

	foreign, _, err := other.IssueToken("ops")
	require.NoError(t, err)
	_, err = s.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, _, err := s.IssueToken("ops")
	require.NoError(t, err)
	s.now = time.Now
	_, err = s.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "ops"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ParseToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckSecret(t *testing.T) {
	s := newTestService(t, "top-secret")
	assert.True(t, s.CheckSecret("top-secret"))
	assert.False(t, s.CheckSecret("top-secre"))
	assert.False(t, s.CheckSecret(""))

	ephemeral := newTestService(t, "")
	assert.False(t, ephemeral.CheckSecret(string(ephemeral.secret)), "the generated key is never a valid shared secret")
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t, "top-secret")
	token, _, err := s.IssueToken("ops")
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		subject string
	}{
		{name: "secret header", headers: map[string]string{SecretHeader: "top-secret"}, status: http.StatusOK, subject: "secret"},
		{name: "bearer token", headers: map[string]string{"Authorization": "Bearer " + token}, status: http.StatusOK, subject: "ops"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong secret", headers: map[string]string{SecretHeader: "nope"}, status: http.StatusUnauthorized},
		{name: "bad scheme", headers: map[string]string{"Authorization": "Basic abc"}, status: http.StatusUnauthorized},
		{name: "bad token", headers: map[string]string{"Authorization": "Bearer abc.def.ghi"}, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			var subject string
			e.GET("/admin", func(c echo.Context) error {
				subject, _ = SubjectFromContext(c)
				return c.NoContent(http.StatusOK)
			}, Middleware(s))

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.subject, subject)
		})
	}
}
