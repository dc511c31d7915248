package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/keeperauth/internal/common"
)

const defaultTimeout = 15 * time.Second

// RESTClient calls the keeperauth REST API.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

// NewRESTClient returns a client for the server at baseURL. A nil hc gets a
// client with a default timeout.
func NewRESTClient(baseURL string, hc *http.Client) *RESTClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &RESTClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type errorBody struct {
	Error string `json:"error"`
}

// do sends in as JSON (when non-nil) and decodes the answer into out (when non-nil).
func (c *RESTClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerScheme+" "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: eb.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *RESTClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func (c *RESTClient) Prelogin(ctx context.Context, email string) (int, error) {
	var out struct {
		SecurityLevel int `json:"securityLevel"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/prelogin", "", map[string]string{"email": email}, &out)
	return out.SecurityLevel, err
}

func (c *RESTClient) Register(ctx context.Context, email, proof string, level int) (*Tokens, error) {
	in := struct {
		Email         string `json:"email"`
		AuthProof     string `json:"authProof"`
		SecurityLevel int    `json:"securityLevel"`
	}{email, proof, level}

	var out Tokens
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login answers RequiresMfa when the account has MFA and mfaCode was empty.
func (c *RESTClient) Login(ctx context.Context, email, proof, mfaCode string) (*LoginResult, error) {
	in := struct {
		Email     string `json:"email"`
		AuthProof string `json:"authProof"`
		MfaCode   string `json:"mfaCode,omitempty"`
	}{email, proof, mfaCode}

	var out struct {
		Tokens
		RequiresMfa bool `json:"requiresMfa"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", in, &out); err != nil {
		return nil, err
	}
	if out.RequiresMfa {
		return &LoginResult{RequiresMfa: true}, nil
	}
	return &LoginResult{Tokens: &out.Tokens}, nil
}

// Refresh rotates refreshToken. bearer, when set, is retired by the server.
func (c *RESTClient) Refresh(ctx context.Context, refreshToken, bearer string) (*Tokens, error) {
	var out Tokens
	err := c.do(ctx, http.MethodPost, "/auth/refresh", bearer, map[string]string{"refreshToken": refreshToken}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) Logout(ctx context.Context, bearer, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", bearer, map[string]string{"refreshToken": refreshToken}, nil)
}

func (c *RESTClient) LogoutAll(ctx context.Context, bearer string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout-all", bearer, nil, nil)
}

func (c *RESTClient) ChangePassword(ctx context.Context, bearer, oldProof, newProof string, level int) error {
	in := struct {
		OldProof      string `json:"oldProof"`
		NewProof      string `json:"newProof"`
		SecurityLevel int    `json:"securityLevel,omitempty"`
	}{oldProof, newProof, level}
	return c.do(ctx, http.MethodPost, "/auth/change-password", bearer, in, nil)
}

func (c *RESTClient) Me(ctx context.Context, bearer string) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/auth/me", bearer, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) SetupMfa(ctx context.Context, bearer string) (*Enrollment, error) {
	var out Enrollment
	if err := c.do(ctx, http.MethodGet, "/mfa/setup", bearer, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type recoveryCodes struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (c *RESTClient) EnableMfa(ctx context.Context, bearer, code string) ([]string, error) {
	var out recoveryCodes
	if err := c.do(ctx, http.MethodPost, "/mfa/enable", bearer, map[string]string{"code": code}, &out); err != nil {
		return nil, err
	}
	return out.RecoveryCodes, nil
}

func (c *RESTClient) DisableMfa(ctx context.Context, bearer, proof, code string) error {
	return c.do(ctx, http.MethodPost, "/mfa/disable", bearer, map[string]string{"proof": proof, "code": code}, nil)
}

func (c *RESTClient) RegenerateRecoveryCodes(ctx context.Context, bearer string) ([]string, error) {
	var out recoveryCodes
	if err := c.do(ctx, http.MethodPost, "/mfa/recovery-codes", bearer, nil, &out); err != nil {
		return nil, err
	}
	return out.RecoveryCodes, nil
}

// IsUnavailable reports whether err means the server could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
