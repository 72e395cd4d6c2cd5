package authflow

import (
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/migration"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
)

// State is one step of the login negotiation. The set of implementations
// is closed: Credentials, MFA, Enrollment, SSO and Authenticated.
type State interface {
	Name() string
	isState()
}

// Credentials is the initial state. Err holds the failure that led back
// here, if any.
type Credentials struct {
	Email string
	Err   error
}

// MFA waits for a TOTP code from an enrolled account.
type MFA struct {
	Email        string
	SessionToken string
	Err          error
}

type EnrollmentStep int

const (
	StepShowCode EnrollmentStep = iota
	StepShowRecoveryCodes
	StepVerifyCode
)

func (s EnrollmentStep) String() string {
	switch s {
	case StepShowCode:
		return "show_code"
	case StepShowRecoveryCodes:
		return "show_recovery_codes"
	case StepVerifyCode:
		return "verify_code"
	}
	return "unknown"
}

// Enrollment walks a first-time MFA setup. Confirmed is set once the
// backend accepted the first code, so a failed login-step2 retry does not
// confirm twice.
type Enrollment struct {
	Email        string
	SessionToken string
	Payload      api.MFAEnrollment
	Step         EnrollmentStep
	Confirmed    bool
	Err          error
}

// SSO waits on the identity provider. Poll is the running status poll.
type SSO struct {
	Email            string
	TenantIdentifier string
	RedirectURL      string
	SessionID        string
	Provider         string
	Poll             *SSOPoll
}

// Authenticated is terminal. Migration is nil when no migration ran.
type Authenticated struct {
	Method    string
	Identity  session.Identity
	Migration *migration.Report
}

func (Credentials) Name() string   { return "credentials" }
func (MFA) Name() string           { return "mfa" }
func (Enrollment) Name() string    { return "enrollment" }
func (SSO) Name() string           { return "sso" }
func (Authenticated) Name() string { return "authenticated" }

func (Credentials) isState()   {}
func (MFA) isState()           {}
func (Enrollment) isState()    {}
func (SSO) isState()           {}
func (Authenticated) isState() {}
