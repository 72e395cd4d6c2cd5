// Package token decodes portal bearer credentials.
//
// The portal backend signs its access tokens; the client never holds the
// key, so decoding reads the claims without verifying the signature. Trust
// decisions stay with the backend, which rejects forged tokens with 401.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmpty     = errors.New("token is empty")
	ErrMalformed = errors.New("token is malformed")
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the roles the portal issues.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Claims are the identity claims carried by an access token.
type Claims struct {
	Subject     string    `json:"sub" yaml:"sub"`
	Email       string    `json:"email" yaml:"email"`
	Role        Role      `json:"role" yaml:"role"`
	TenantID    *int64    `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	TenantName  string    `json:"tenant_name,omitempty" yaml:"tenant_name,omitempty"`
	Permissions []string  `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	ExpiresAt   time.Time `json:"exp" yaml:"exp"`
}

// Expired reports whether the token is past its expiry at now. A token
// without an exp claim counts as expired.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt)
}

func (c *Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

var parser = jwt.NewParser(jwt.WithJSONNumber())

// Decode extracts the claims of raw without verifying its signature.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, ErrEmpty
	}

	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims := &Claims{
		Subject:    stringClaim(mc["sub"]),
		Email:      stringClaim(mc["email"]),
		Role:       Role(stringClaim(mc["role"])),
		TenantName: stringClaim(mc["tenant_name"]),
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformed, err)
	}
	if exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if v, ok := mc["tenant_id"]; ok && v != nil {
		id, err := intClaim(v)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant_id: %v", ErrMalformed, err)
		}
		claims.TenantID = &id
	}

	if perms, ok := mc["permissions"].([]interface{}); ok {
		for _, p := range perms {
			if s := stringClaim(p); s != "" {
				claims.Permissions = append(claims.Permissions, s)
			}
		}
	}

	return claims, nil
}

// IsExpired decodes raw and reports whether it is expired at now. Tokens
// that cannot be decoded are reported as expired.
func IsExpired(raw string, now time.Time) bool {
	claims, err := Decode(raw)
	if err != nil {
		return true
	}
	return claims.Expired(now)
}

func stringClaim(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func intClaim(v interface{}) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}
