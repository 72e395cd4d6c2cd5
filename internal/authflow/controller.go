// Package authflow drives the multi-step login negotiation: password,
// TOTP, first-time MFA enrollment and SSO, ending in an established
// session.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/browser"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/migration"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/telemetry"
)

// Error is a flow failure with a fixed user-facing message.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) UserMessage() string { return e.msg }
func (e *Error) Unwrap() error       { return e.err }

func sessionError(err error) error {
	msg := "The server returned a session this client cannot use."
	switch {
	case errors.Is(err, session.ErrRoleNotAllowed):
		msg = "This account cannot sign in to this portal."
	case errors.Is(err, session.ErrTokenExpired):
		msg = "The server returned an expired session. Check your system clock and try again."
	}
	return &Error{msg: msg, err: err}
}

var (
	ErrWrongState   = &Error{msg: "That action is not available at this step of the login."}
	ErrSSOExpired   = &Error{msg: "Your SSO session expired. Please try again."}
	ErrSSOTimedOut  = &Error{msg: "Timed out waiting for SSO sign-in. Please try again."}
	ErrNoAccessCode = &Error{msg: "The server did not return an access token."}
)

// Backend is the subset of *api.Client the flow calls.
type Backend interface {
	LoginStep1(ctx context.Context, email, password string) (*api.LoginStep1Response, error)
	MFAEnroll(ctx context.Context, sessionToken string) (*api.MFAEnrollment, error)
	MFAConfirm(ctx context.Context, sessionToken, code string) error
	LoginStep2(ctx context.Context, sessionToken string, code *string) (*api.TokenResponse, error)
	SSOInitiate(ctx context.Context, req api.SSOInitiateRequest) (*api.SSOInitiation, error)
	SSOSessionStatus(ctx context.Context, sessionID string) (*api.SSOSessionStatus, error)
}

// Session receives the access token. *session.Store satisfies it.
type Session interface {
	Establish(ctx context.Context, raw string) error
	Identity() (session.Identity, bool)
	Kind() session.Kind
}

// Migrator runs the post-login cache migration. *migration.Migrator
// satisfies it.
type Migrator interface {
	Run(ctx context.Context, tenantID int64) (*migration.Report, error)
}

// Controller is the login state machine for one portal. It is safe for
// concurrent use; the SSO poll goroutine updates it when the poll ends.
type Controller struct {
	backend   Backend
	session   Session
	opener    browser.Opener
	migrator  Migrator
	logger    *logger.Logger
	telemetry telemetry.Telemetry

	pollInterval time.Duration
	ssoTimeout   time.Duration

	mu      sync.Mutex
	state   State
	poll    *SSOPoll
	history []string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for auth events.
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTelemetry records login outcomes and SSO polls.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(c *Controller) { c.telemetry = t }
}

// WithOpener sets how the SSO redirect URL is shown. Without one the URL
// is only carried in the SSO state.
func WithOpener(o browser.Opener) Option {
	return func(c *Controller) { c.opener = o }
}

// WithMigrator enables the post-login migration. Only the tenant portal
// sets it.
func WithMigrator(m Migrator) Option {
	return func(c *Controller) { c.migrator = m }
}

// WithPollInterval sets the SSO status poll interval (default 2s).
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithSSOTimeout bounds the whole SSO wait.
func WithSSOTimeout(d time.Duration) Option {
	return func(c *Controller) { c.ssoTimeout = d }
}

// New returns a Controller in the Credentials state that establishes the
// resulting token in sess.
func New(backend Backend, sess Session, opts ...Option) *Controller {
	c := &Controller{
		backend:      backend,
		session:      sess,
		pollInterval: 2 * time.Second,
		ssoTimeout:   10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.telemetry == nil {
		c.telemetry = telemetry.NewNoop()
	}
	c.logger = c.logger.WithComponent("authflow").WithFields("portal", string(sess.Kind()))
	c.setState(Credentials{})
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History lists the names of every state entered, oldest first.
func (c *Controller) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.history...)
}

// setState must be called with c.mu held (or before c is shared).
func (c *Controller) setState(s State) {
	c.state = s
	c.history = append(c.history, s.Name())
}

func (c *Controller) portal() string { return string(c.session.Kind()) }

// SubmitCredentials runs login step 1 and follows whichever branch the
// backend selects.
func (c *Controller) SubmitCredentials(ctx context.Context, email, password string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Credentials); !ok {
		return c.state, ErrWrongState
	}

	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return c.state, err
	}

	step1, err := c.backend.LoginStep1(ctx, email, password)
	if err != nil {
		return c.fail(ctx, Credentials{Email: email, Err: err}, "password", err)
	}

	switch {
	case step1.MFASetupRequired:
		payload, err := c.backend.MFAEnroll(ctx, step1.SessionToken)
		if err != nil {
			return c.fail(ctx, Credentials{Email: email, Err: err}, "password", err)
		}
		c.logger.LogAuthEvent(ctx, "mfa_enrollment_required", map[string]interface{}{"portal": c.portal()})
		c.setState(Enrollment{
			Email:        email,
			SessionToken: step1.SessionToken,
			Payload:      *payload,
			Step:         StepShowCode,
		})
		return c.state, nil

	case step1.MFAEnabled:
		c.logger.LogAuthEvent(ctx, "mfa_required", map[string]interface{}{"portal": c.portal()})
		c.setState(MFA{Email: email, SessionToken: step1.SessionToken})
		return c.state, nil
	}

	tok, err := c.backend.LoginStep2(ctx, step1.SessionToken, nil)
	if err != nil {
		return c.fail(ctx, Credentials{Email: email, Err: err}, "password", err)
	}
	return c.complete(ctx, tok.AccessToken, "password", Credentials{Email: email})
}

// NextEnrollmentStep advances the enrollment wizard by one page.
func (c *Controller) NextEnrollmentStep() (State, error) {
	return c.moveEnrollment(1)
}

// PrevEnrollmentStep goes back one page of the enrollment wizard.
func (c *Controller) PrevEnrollmentStep() (State, error) {
	return c.moveEnrollment(-1)
}

func (c *Controller) moveEnrollment(delta int) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	en, ok := c.state.(Enrollment)
	if !ok {
		return c.state, ErrWrongState
	}
	next := en.Step + EnrollmentStep(delta)
	if next < StepShowCode || next > StepVerifyCode {
		return c.state, ErrWrongState
	}
	en.Step = next
	en.Err = nil
	c.state = en
	return c.state, nil
}

// SubmitEnrollmentCode confirms enrollment with the first TOTP code and
// then completes login step 2 with the same code.
func (c *Controller) SubmitEnrollmentCode(ctx context.Context, code string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	en, ok := c.state.(Enrollment)
	if !ok || en.Step != StepVerifyCode {
		return c.state, ErrWrongState
	}

	code = SanitizeCode(code)
	if err := ValidateCode(code); err != nil {
		return c.state, err
	}

	if !en.Confirmed {
		if err := c.backend.MFAConfirm(ctx, en.SessionToken, code); err != nil {
			en.Err = err
			return c.fail(ctx, en, "mfa_enrollment", err)
		}
		en.Confirmed = true
		c.state = en
		c.logger.LogAuthEvent(ctx, "mfa_enrollment_confirmed", map[string]interface{}{"portal": c.portal()})
	}

	tok, err := c.backend.LoginStep2(ctx, en.SessionToken, &code)
	if err != nil {
		en.Err = err
		return c.fail(ctx, en, "mfa_enrollment", err)
	}
	return c.complete(ctx, tok.AccessToken, "mfa_enrollment", Credentials{Email: en.Email})
}

// SubmitMFACode completes login step 2 for an enrolled account. A rejected
// code leaves the flow in MFA with the same session token.
func (c *Controller) SubmitMFACode(ctx context.Context, code string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.state.(MFA)
	if !ok {
		return c.state, ErrWrongState
	}

	code = SanitizeCode(code)
	if err := ValidateCode(code); err != nil {
		return c.state, err
	}

	tok, err := c.backend.LoginStep2(ctx, m.SessionToken, &code)
	if err != nil {
		m.Err = err
		return c.fail(ctx, m, "mfa", err)
	}
	return c.complete(ctx, tok.AccessToken, "mfa", Credentials{Email: m.Email})
}

// StartSSO initiates SSO for the email's domain, opens the identity
// provider page and starts polling. The poll is bound to ctx.
func (c *Controller) StartSSO(ctx context.Context, email string) (*SSOPoll, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Credentials); !ok {
		return nil, ErrWrongState
	}

	email = strings.TrimSpace(email)
	tenant, err := TenantIdentifier(email)
	if err != nil {
		return nil, err
	}

	init, err := c.backend.SSOInitiate(ctx, api.SSOInitiateRequest{TenantIdentifier: tenant, Email: email})
	if parent := parentTenant(tenant); parent != "" && isNotFound(err) {
		c.logger.Debugw("No SSO tenant for domain, trying registrable domain", "tenant", tenant, "fallback", parent)
		tenant = parent
		init, err = c.backend.SSOInitiate(ctx, api.SSOInitiateRequest{TenantIdentifier: tenant, Email: email})
	}
	if err != nil {
		_, err = c.fail(ctx, Credentials{Email: email, Err: err}, "sso", err)
		return nil, err
	}
	if init.SessionID == "" || init.RedirectURL == "" {
		err := fmt.Errorf("sso initiate: incomplete response")
		_, err = c.fail(ctx, Credentials{Email: email, Err: err}, "sso", err)
		return nil, err
	}

	c.logger.LogAuthEvent(ctx, "sso_initiated", map[string]interface{}{
		"portal":   c.portal(),
		"tenant":   tenant,
		"provider": init.Provider,
	})

	if c.opener != nil {
		if err := c.opener.Open(ctx, init.RedirectURL); err != nil {
			// the URL stays in the SSO state for the caller to show
			c.logger.Warnw("Could not open SSO page", "error", err)
		}
	}

	poll := startPoll(ctx, init.SessionID, c.pollInterval, c.ssoTimeout,
		c.backend.SSOSessionStatus, c.logger, c.telemetry.RecordSSOPoll, c.finishSSO)

	c.poll = poll
	c.setState(SSO{
		Email:            email,
		TenantIdentifier: tenant,
		RedirectURL:      init.RedirectURL,
		SessionID:        init.SessionID,
		Provider:         init.Provider,
		Poll:             poll,
	})
	return poll, nil
}

func isNotFound(err error) bool {
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// finishSSO runs on the poll goroutine once the poll stops.
func (c *Controller) finishSSO(p *SSOPoll, res PollResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a poll that was replaced or abandoned must not touch the state
	sso, ok := c.state.(SSO)
	if !ok || c.poll != p || res.Outcome == PollCancelled {
		return
	}
	c.poll = nil

	// the poll's own context is already finished
	ctx := p.parent

	switch res.Outcome {
	case PollCompleted:
		if res.AccessToken == "" {
			_, _ = c.fail(ctx, Credentials{Email: sso.Email, Err: ErrNoAccessCode}, "sso", ErrNoAccessCode)
			return
		}
		_, _ = c.complete(ctx, res.AccessToken, "sso", Credentials{Email: sso.Email})
	case PollExpired:
		_, _ = c.fail(ctx, Credentials{Email: sso.Email, Err: ErrSSOExpired}, "sso", ErrSSOExpired)
	case PollTimedOut:
		_, _ = c.fail(ctx, Credentials{Email: sso.Email, Err: ErrSSOTimedOut}, "sso", ErrSSOTimedOut)
	}
}

// Back returns to Credentials from any step but Authenticated, stopping a
// running SSO poll.
func (c *Controller) Back() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	email := ""
	switch s := c.state.(type) {
	case Authenticated:
		return c.state, ErrWrongState
	case Credentials:
		return c.state, nil
	case MFA:
		email = s.Email
	case Enrollment:
		email = s.Email
	case SSO:
		email = s.Email
	}

	if c.poll != nil {
		c.poll.Cancel()
		c.poll = nil
	}
	c.setState(Credentials{Email: email})
	return c.state, nil
}

// Close stops any running poll and closes the opener.
func (c *Controller) Close() error {
	c.mu.Lock()
	poll := c.poll
	c.poll = nil
	c.mu.Unlock()

	if poll != nil {
		poll.Cancel()
	}
	if c.opener != nil {
		return c.opener.Close()
	}
	return nil
}

// fail records a failed attempt and moves to next. Must hold c.mu.
func (c *Controller) fail(ctx context.Context, next State, method string, err error) (State, error) {
	outcome := "error"
	if api.IsAuthRejected(err) {
		outcome = "rejected"
	} else if errors.Is(err, api.ErrUnreachable) {
		outcome = "unreachable"
	}
	c.telemetry.RecordLogin(c.portal(), method, outcome)
	c.logger.LogAuthEvent(ctx, "login_failed", map[string]interface{}{
		"portal":  c.portal(),
		"method":  method,
		"outcome": outcome,
		"step":    next.Name(),
	})
	c.setState(next)
	return c.state, err
}

// complete hands the access token to the session store and, for the tenant
// portal, runs the migration. Must hold c.mu.
func (c *Controller) complete(ctx context.Context, accessToken, method string, onReject State) (State, error) {
	if accessToken == "" {
		return c.fail(ctx, onReject, method, ErrNoAccessCode)
	}
	if err := c.session.Establish(ctx, accessToken); err != nil {
		err = sessionError(err)
		if cr, ok := onReject.(Credentials); ok {
			cr.Err = err
			onReject = cr
		}
		return c.fail(ctx, onReject, method, err)
	}

	identity, _ := c.session.Identity()
	auth := Authenticated{Method: method, Identity: identity}

	c.telemetry.RecordLogin(c.portal(), method, "success")
	c.logger.LogAuthEvent(ctx, "login_succeeded", map[string]interface{}{
		"portal": c.portal(),
		"method": method,
		"role":   string(identity.Role),
	})

	if c.migrator != nil && identity.TenantID != nil {
		report, err := c.migrator.Run(ctx, *identity.TenantID)
		if err != nil {
			c.logger.Warnw("Local cache migration failed, continuing login", "error", err, "tenant_id", *identity.TenantID)
		}
		auth.Migration = report
	}

	c.setState(auth)
	return c.state, nil
}
