// Package rest exposes the session use cases as JSON endpoints over echo.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dmitrijs2005/keeperauth/internal/cryptox"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
	"github.com/dmitrijs2005/keeperauth/internal/server/auth"
	"github.com/dmitrijs2005/keeperauth/internal/server/models"
	"github.com/dmitrijs2005/keeperauth/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// Sessions is the subset of services.SessionService the handlers use.
type Sessions interface {
	Prelogin(ctx context.Context, email string) cryptox.SecurityLevel
	Register(ctx context.Context, email, proof string, level cryptox.SecurityLevel) (*services.TokenPair, error)
	Login(ctx context.Context, email, proof, mfaCode string) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken, presentedBearer string) (*services.TokenPair, error)
	Logout(ctx context.Context, bearer, refreshToken string)
	LogoutAll(ctx context.Context, claims *auth.Claims) error
	ChangePassword(ctx context.Context, claims *auth.Claims, oldProof, newProof string, level cryptox.SecurityLevel) error
	Authenticate(ctx context.Context, bearer string) (*auth.Claims, error)
	Me(ctx context.Context, claims *auth.Claims) (*models.Account, error)
	SetupMfa(ctx context.Context, claims *auth.Claims) (*services.Enrollment, error)
	EnableMfa(ctx context.Context, claims *auth.Claims, code string) ([]string, error)
	DisableMfa(ctx context.Context, claims *auth.Claims, proof, code string) error
	RegenerateRecoveryCodes(ctx context.Context, claims *auth.Claims) ([]string, error)
}

// HealthFunc reports whether the server can serve requests.
type HealthFunc func(ctx context.Context) error

// Server is the REST API over echo.
type Server struct {
	echo     *echo.Echo
	address  string
	sessions Sessions
	health   HealthFunc
	logger   logging.Logger
}

// NewServer registers every route. Nothing listens until Run or Serve.
func NewServer(address string, sessions Sessions, health HealthFunc, logger logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		address:  address,
		sessions: sessions,
		health:   health,
		logger:   logger.With("module", "rest_server"),
	}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.healthz)

	a := s.echo.Group("/auth")
	a.POST("/prelogin", s.prelogin)
	a.POST("/register", s.register)
	a.POST("/login", s.login)
	a.POST("/refresh", s.refresh)
	a.POST("/logout", s.logout)
	a.POST("/logout-all", s.logoutAll, s.requireBearer)
	a.POST("/change-password", s.changePassword, s.requireBearer)
	a.GET("/me", s.me, s.requireBearer)

	m := s.echo.Group("/mfa", s.requireBearer)
	m.GET("/setup", s.mfaSetup)
	m.POST("/enable", s.mfaEnable)
	m.POST("/disable", s.mfaDisable)
	m.POST("/recovery-codes", s.mfaRecoveryCodes)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis and shuts down gracefully when ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting REST server", "address", lis.Addr().String())
		if err := s.echo.Server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping REST server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
