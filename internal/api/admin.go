package api

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type Tenant struct {
	ID        ID        `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Domain    string    `json:"domain,omitempty" yaml:"domain,omitempty"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

type User struct {
	ID         ID         `json:"id" yaml:"id"`
	Email      string     `json:"email" yaml:"email"`
	Role       string     `json:"role" yaml:"role"`
	TenantID   *ID        `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	IsActive   bool       `json:"is_active" yaml:"is_active"`
	MFAEnabled bool       `json:"mfa_enabled" yaml:"mfa_enabled"`
	LastLogin  *time.Time `json:"last_login,omitempty" yaml:"last_login,omitempty"`
}

type AuditLog struct {
	ID           ID                     `json:"id" yaml:"id"`
	Timestamp    time.Time              `json:"timestamp" yaml:"timestamp"`
	UserEmail    string                 `json:"user_email,omitempty" yaml:"user_email,omitempty"`
	TenantID     *ID                    `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Action       string                 `json:"action" yaml:"action"`
	ResourceType string                 `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

type AccessLog struct {
	ID         ID        `json:"id" yaml:"id"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	UserEmail  string    `json:"user_email,omitempty" yaml:"user_email,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Method     string    `json:"method,omitempty" yaml:"method,omitempty"`
	Path       string    `json:"path" yaml:"path"`
	StatusCode int       `json:"status_code" yaml:"status_code"`
}

// SSOConfig is a tenant's identity-provider configuration. Secrets are
// never returned by the backend.
type SSOConfig struct {
	TenantID        ID     `json:"tenant_id" yaml:"tenant_id"`
	Provider        string `json:"provider" yaml:"provider"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	EntityID        string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	SSOURL          string `json:"sso_url,omitempty" yaml:"sso_url,omitempty"`
	ClientID        string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Issuer          string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	JITProvisioning bool   `json:"jit_provisioning" yaml:"jit_provisioning"`
	DefaultRole     string `json:"default_role,omitempty" yaml:"default_role,omitempty"`
}

// KMSConfig describes where a tenant's key-encryption key lives.
type KMSConfig struct {
	TenantID    ID         `json:"tenant_id" yaml:"tenant_id"`
	Provider    string     `json:"provider" yaml:"provider"`
	KeyID       string     `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	Region      string     `json:"region,omitempty" yaml:"region,omitempty"`
	BYOK        bool       `json:"byok" yaml:"byok"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	LastRotated *time.Time `json:"last_rotated,omitempty" yaml:"last_rotated,omitempty"`
}

func (c *Client) ListTenants(ctx context.Context, opts ListOptions) ([]Tenant, error) {
	var out []Tenant
	if err := c.do(ctx, request{method: http.MethodGet, path: "/admin/tenants", query: opts.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListUsers(ctx context.Context, opts ListOptions) ([]User, error) {
	var out []User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/admin/users", query: opts.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAuditLogs(ctx context.Context, opts ListOptions) ([]AuditLog, error) {
	var out []AuditLog
	if err := c.do(ctx, request{method: http.MethodGet, path: "/admin/audit-logs", query: opts.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAccessLogs(ctx context.Context, opts ListOptions) ([]AccessLog, error) {
	var out []AccessLog
	if err := c.do(ctx, request{method: http.MethodGet, path: "/admin/access-logs", query: opts.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TenantSSOConfig(ctx context.Context, tenantID string) (*SSOConfig, error) {
	var out SSOConfig
	path := "/admin/tenants/" + url.PathEscape(tenantID) + "/sso-config"
	if err := c.do(ctx, request{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TenantKMSConfig(ctx context.Context, tenantID string) (*KMSConfig, error) {
	var out KMSConfig
	path := "/admin/tenants/" + url.PathEscape(tenantID) + "/kms-config"
	if err := c.do(ctx, request{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
