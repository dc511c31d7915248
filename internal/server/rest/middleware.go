package rest

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
)

const claimsKey = "claims"

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(common.AuthorizationHeaderName)
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireBearer authenticates the request and checks the revocation ledger.
func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return common.ErrorUnauthorized
		}
		claims, err := s.sessions.Authenticate(c.Request().Context(), token)
		if err != nil {
			return err
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func claimsFrom(c echo.Context) *auth.Claims {
	claims, _ := c.Get(claimsKey).(*auth.Claims)
	return claims
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			s.logger.Debug(req.Context(), "request",
				"method", req.Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}
