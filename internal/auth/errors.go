package auth

import (
	"errors"
	"net/http"
)

// Rejections produced by the middleware. ParseJWT failures wrap ErrInvalidToken.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")
)

// statusFor maps a rejection to its HTTP status and response message.
func statusFor(err error) (int, string) {
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden, ErrForbidden.Error()
	}
	return http.StatusUnauthorized, ErrUnauthorized.Error()
}
