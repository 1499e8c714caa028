package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	SecretHeader = "X-Admin-Secret"
	SubjectKey   = "admin_subject"
)

// Middleware accepts either the shared secret header or a bearer token.
func Middleware(s *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.CheckSecret(c.Request().Header.Get(SecretHeader)) {
				c.Set(SubjectKey, "secret")
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing admin credentials")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
			}

			sub, err := s.ParseToken(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(SubjectKey, sub)
			return next(c)
		}
	}
}

// SubjectFromContext returns who authenticated the request.
func SubjectFromContext(c echo.Context) (string, error) {
	sub, ok := c.Get(SubjectKey).(string)
	if !ok || sub == "" {
		return "", errors.New("admin subject not found in context")
	}
	return sub, nil
}
