package rest

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/keeperauth/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Credential and MFA failures share one message so responses do not tell
// which check failed.
const msgInvalidCredentials = "invalid credentials"

var statusByError = []struct {
	err    error
	status int
	msg    string
}{
	{common.ErrInvalidCredentials, http.StatusUnauthorized, msgInvalidCredentials},
	{common.ErrInvalidMfaCode, http.StatusUnauthorized, msgInvalidCredentials},
	{common.ErrAccountLocked, http.StatusLocked, "account locked"},
	{common.ErrConflict, http.StatusConflict, "account already exists"},
	{common.ErrInvalidToken, http.StatusBadRequest, "invalid token"},
	{common.ErrorUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{common.ErrMfaAlreadyEnabled, http.StatusConflict, "mfa already enabled"},
	{common.ErrMfaNotEnabled, http.StatusConflict, "mfa not enabled"},
	{common.ErrMfaEnrollmentNotStarted, http.StatusConflict, "mfa enrollment not started"},
}

// statusFor maps an error onto an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	if errors.Is(err, common.ErrValidation) {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var status int
	var msg string

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	} else {
		status, msg = statusFor(err)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "write error response", "error", err)
	}
}
