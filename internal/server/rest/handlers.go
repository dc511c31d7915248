package rest

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/services"
)

type preloginRequest struct {
	Email string `json:"email"`
}

type preloginResponse struct {
	SecurityLevel int `json:"securityLevel"`
}

type registerRequest struct {
	Email         string `json:"email"`
	AuthProof     string `json:"authProof"`
	SecurityLevel int    `json:"securityLevel"`
}

type loginRequest struct {
	Email     string `json:"email"`
	AuthProof string `json:"authProof"`
	MfaCode   string `json:"mfaCode,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldProof      string `json:"oldProof"`
	NewProof      string `json:"newProof"`
	SecurityLevel int    `json:"securityLevel,omitempty"`
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

type mfaDisableRequest struct {
	Proof string `json:"proof"`
	Code  string `json:"code"`
}

type profile struct {
	ID                     string   `json:"id"`
	Email                  string   `json:"email"`
	Roles                  []string `json:"roles"`
	SecurityLevel          int      `json:"securityLevel"`
	MfaEnabled             bool     `json:"mfaEnabled"`
	RecoveryCodesRemaining int      `json:"recoveryCodesRemaining"`
}

type tokenBundle struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	Profile          profile   `json:"profile"`
}

type mfaRequiredResponse struct {
	RequiresMfa bool `json:"requiresMfa"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type enrollmentResponse struct {
	Secret          string `json:"secret"`
	ManualEntry     string `json:"manualEntry"`
	ProvisioningURI string `json:"provisioningUri"`
	QRCodePNG       []byte `json:"qrCodePng"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func profileOf(a *models.Account) profile {
	roles := a.Roles()
	if roles == nil {
		roles = []string{}
	}
	return profile{
		ID:                     a.ID,
		Email:                  a.Email,
		Roles:                  roles,
		SecurityLevel:          a.SecurityLevel,
		MfaEnabled:             a.MfaEnabled,
		RecoveryCodesRemaining: a.RecoveryCodesRemaining,
	}
}

func bundleOf(p *services.TokenPair) tokenBundle {
	return tokenBundle{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		ExpiresAt:        p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		Profile:          profileOf(p.Account),
	}
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return common.ErrValidation
	}
	return nil
}

func ok(c echo.Context) error {
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (s *Server) healthz(c echo.Context) error {
	if s.health != nil {
		if err := s.health(c.Request().Context()); err != nil {
			s.logger.Warn(c.Request().Context(), "health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) prelogin(c echo.Context) error {
	var req preloginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	level := s.sessions.Prelogin(c.Request().Context(), req.Email)
	return c.JSON(http.StatusOK, preloginResponse{SecurityLevel: int(level)})
}

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	pair, err := s.sessions.Register(c.Request().Context(), req.Email, req.AuthProof, cryptox.SecurityLevel(req.SecurityLevel))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, bundleOf(pair))
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.sessions.Login(c.Request().Context(), req.Email, req.AuthProof, req.MfaCode)
	if err != nil {
		return err
	}
	if res.Status == services.LoginMfaRequired {
		return c.JSON(http.StatusOK, mfaRequiredResponse{RequiresMfa: true})
	}
	return c.JSON(http.StatusOK, bundleOf(res.Tokens))
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	pair, err := s.sessions.Refresh(c.Request().Context(), req.RefreshToken, bearerToken(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bundleOf(pair))
}

// logout answers success for any input, including a body that does not parse.
func (s *Server) logout(c echo.Context) error {
	var req refreshRequest
	_ = c.Bind(&req)
	s.sessions.Logout(c.Request().Context(), bearerToken(c), req.RefreshToken)
	return ok(c)
}

func (s *Server) logoutAll(c echo.Context) error {
	if err := s.sessions.LogoutAll(c.Request().Context(), claimsFrom(c)); err != nil {
		return err
	}
	return ok(c)
}

func (s *Server) changePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	err := s.sessions.ChangePassword(c.Request().Context(), claimsFrom(c), req.OldProof, req.NewProof, cryptox.SecurityLevel(req.SecurityLevel))
	if err != nil {
		return err
	}
	return ok(c)
}

func (s *Server) me(c echo.Context) error {
	a, err := s.sessions.Me(c.Request().Context(), claimsFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profileOf(a))
}

func (s *Server) mfaSetup(c echo.Context) error {
	e, err := s.sessions.SetupMfa(c.Request().Context(), claimsFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enrollmentResponse{
		Secret:          e.Secret,
		ManualEntry:     e.ManualEntry,
		ProvisioningURI: e.ProvisioningURI,
		QRCodePNG:       e.QRCodePNG,
	})
}

func (s *Server) mfaEnable(c echo.Context) error {
	var req mfaCodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	codes, err := s.sessions.EnableMfa(c.Request().Context(), claimsFrom(c), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (s *Server) mfaDisable(c echo.Context) error {
	var req mfaDisableRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.sessions.DisableMfa(c.Request().Context(), claimsFrom(c), req.Proof, req.Code); err != nil {
		return err
	}
	return ok(c)
}

func (s *Server) mfaRecoveryCodes(c echo.Context) error {
	codes, err := s.sessions.RegenerateRecoveryCodes(c.Request().Context(), claimsFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}
