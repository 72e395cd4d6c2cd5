package api

import (
	"context"
	"net/http"
	"net/url"
)

type LoginStep1Request struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginStep1Response carries the short-lived session token used by every
// later step of the same login.
type LoginStep1Response struct {
	SessionToken     string `json:"session_token"`
	MFAEnabled       bool   `json:"mfa_enabled"`
	MFASetupRequired bool   `json:"mfa_setup_required"`
}

// MFAEnrollment is the provisioning payload for a first-time TOTP setup.
// QRCode is usually a data URL holding a PNG.
type MFAEnrollment struct {
	QRCode      string   `json:"qr_code" yaml:"qr_code"`
	Secret      string   `json:"secret" yaml:"secret"`
	BackupCodes []string `json:"backup_codes" yaml:"backup_codes"`
}

type LoginStep2Request struct {
	SessionToken string  `json:"session_token"`
	Code         *string `json:"code"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

type SSOInitiateRequest struct {
	TenantIdentifier string `json:"tenant_identifier"`
	Email            string `json:"email,omitempty"`
}

type SSOInitiation struct {
	RedirectURL string `json:"redirect_url"`
	SessionID   string `json:"session_id"`
	Provider    string `json:"provider"`
}

type SSOSessionStatus struct {
	Completed   bool   `json:"completed"`
	Expired     bool   `json:"expired"`
	AccessToken string `json:"access_token,omitempty"`
}

func (c *Client) LoginStep1(ctx context.Context, email, password string) (*LoginStep1Response, error) {
	var out LoginStep1Response
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login-step1",
		body:      LoginStep1Request{Email: email, Password: password},
		anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MFAEnroll(ctx context.Context, sessionToken string) (*MFAEnrollment, error) {
	var out MFAEnrollment
	err := c.do(ctx, request{
		method:       http.MethodGet,
		path:         "/auth/mfa/enroll",
		sessionToken: sessionToken,
		anonymous:    true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MFAConfirm(ctx context.Context, sessionToken, code string) error {
	return c.do(ctx, request{
		method:       http.MethodPost,
		path:         "/auth/mfa/confirm",
		body:         map[string]string{"code": code},
		sessionToken: sessionToken,
		anonymous:    true,
	}, nil)
}

// LoginStep2 exchanges the session token (and TOTP code, nil for
// password-only accounts) for the access token.
func (c *Client) LoginStep2(ctx context.Context, sessionToken string, code *string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login-step2",
		body:      LoginStep2Request{SessionToken: sessionToken, Code: code},
		anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SSOInitiate(ctx context.Context, req SSOInitiateRequest) (*SSOInitiation, error) {
	var out SSOInitiation
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/sso/auth/initiate",
		body:      req,
		anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SSOSessionStatus(ctx context.Context, sessionID string) (*SSOSessionStatus, error) {
	var out SSOSessionStatus
	err := c.do(ctx, request{
		method:    http.MethodGet,
		path:      "/sso/auth/session/" + url.PathEscape(sessionID),
		anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
