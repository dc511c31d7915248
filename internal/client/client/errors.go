package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/keeperauth/internal/common"
)

var ErrUnavailable = errors.New("server unavailable")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the response onto a common sentinel.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		if e.Message == "unauthorized" {
			return common.ErrorUnauthorized
		}
		return common.ErrInvalidCredentials
	case http.StatusLocked:
		return common.ErrAccountLocked
	case http.StatusConflict:
		switch e.Message {
		case "mfa already enabled":
			return common.ErrMfaAlreadyEnabled
		case "mfa not enabled":
			return common.ErrMfaNotEnabled
		case "mfa enrollment not started":
			return common.ErrMfaEnrollmentNotStarted
		}
		return common.ErrConflict
	case http.StatusBadRequest:
		if e.Message == "invalid token" {
			return common.ErrInvalidToken
		}
		return common.ErrValidation
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	}
	return common.ErrorInternal
}
