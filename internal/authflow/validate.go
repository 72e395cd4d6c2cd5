package authflow

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const CodeLength = 6

// ValidationError is a client-side check that failed before any request
// was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) UserMessage() string { return e.Message }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// SanitizeCode keeps the digits of s and truncates to CodeLength, the way
// the code input field filters keystrokes.
func SanitizeCode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() == CodeLength {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateCode requires exactly CodeLength ASCII digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return &ValidationError{Field: "code", Message: "Enter the 6-digit code from your authenticator app."}
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return &ValidationError{Field: "code", Message: "The code must contain digits only."}
		}
	}
	return nil
}

func validateCredentials(email, password string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "Email is required."}
	}
	if password == "" {
		return &ValidationError{Field: "password", Message: "Password is required."}
	}
	return nil
}

// TenantIdentifier derives the SSO tenant identifier from an email
// address: its domain part, lowercased.
func TenantIdentifier(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", &ValidationError{Field: "email", Message: "Enter your work email to sign in with SSO."}
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", &ValidationError{Field: "email", Message: "Enter a valid email address."}
	}
	domain := strings.ToLower(strings.TrimSuffix(email[at+1:], "."))
	if domain == "" {
		return "", &ValidationError{Field: "email", Message: "Enter a valid email address."}
	}
	return domain, nil
}

// parentTenant returns the registrable domain of a subdomain tenant
// identifier, or "" when there is none to fall back to.
func parentTenant(tenant string) string {
	registrable, err := publicsuffix.EffectiveTLDPlusOne(tenant)
	if err != nil || registrable == tenant {
		return ""
	}
	return registrable
}
