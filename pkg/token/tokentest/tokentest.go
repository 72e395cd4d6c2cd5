// Package tokentest mints access tokens shaped like the portal backend's
// for use in tests.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signingKey = "portalctl-test-signing-key"

// Options describe the claims of a minted token. Zero fields are omitted.
type Options struct {
	Subject     string
	Email       string
	Role        string
	TenantID    *int64
	TenantName  string
	Permissions []string
	ExpiresIn   time.Duration
	NoExpiry    bool
}

// Sign returns an HS256 token carrying opts.
func Sign(t testing.TB, opts Options) string {
	t.Helper()

	claims := jwt.MapClaims{}
	if opts.Subject != "" {
		claims["sub"] = opts.Subject
	}
	if opts.Email != "" {
		claims["email"] = opts.Email
	}
	if opts.Role != "" {
		claims["role"] = opts.Role
	}
	if opts.TenantID != nil {
		claims["tenant_id"] = *opts.TenantID
	}
	if opts.TenantName != "" {
		claims["tenant_name"] = opts.TenantName
	}
	if len(opts.Permissions) > 0 {
		claims["permissions"] = opts.Permissions
	}
	if !opts.NoExpiry {
		expiresIn := opts.ExpiresIn
		if expiresIn == 0 {
			expiresIn = time.Hour
		}
		claims["exp"] = time.Now().Add(expiresIn).Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// TenantUser mints a valid tenant user token for tenantID.
func TenantUser(t testing.TB, tenantID int64) string {
	t.Helper()
	return Sign(t, Options{
		Subject:     "42",
		Email:       "user@acme.com",
		Role:        "user",
		TenantID:    &tenantID,
		TenantName:  "Acme",
		Permissions: []string{"targets:read", "targets:write", "queue:write"},
	})
}

// SuperAdmin mints a valid super admin token without a tenant.
func SuperAdmin(t testing.TB) string {
	t.Helper()
	return Sign(t, Options{
		Subject: "1",
		Email:   "root@portal.example",
		Role:    "super_admin",
	})
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
