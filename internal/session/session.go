// Package session is the single source of truth for "who is logged in".
//
// Two independent stores exist: one for tenant users and one for super
// admins. They persist under different profile keys and admit different
// roles, so a super admin and a tenant user sharing a workstation never
// inherit each other's privileges.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/storage"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token"
)

type Kind string

const (
	KindTenant Kind = "tenant"
	KindAdmin  Kind = "admin"
)

const (
	TenantStorageKey = "portal_session"
	AdminStorageKey  = "admin_session"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrMissingClaims   = errors.New("token is missing required claims")
	ErrMissingTenant   = errors.New("token is missing a tenant")
	ErrRoleNotAllowed  = errors.New("role not allowed for this portal")
	ErrUnauthenticated = errors.New("not logged in")
	ErrForbidden       = errors.New("insufficient role")
)

// Identity is the decoded view of the current token.
type Identity struct {
	ID          string     `json:"id" yaml:"id"`
	Email       string     `json:"email" yaml:"email"`
	Role        token.Role `json:"role" yaml:"role"`
	TenantID    *int64     `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	TenantName  string     `json:"tenant_name,omitempty" yaml:"tenant_name,omitempty"`
	Permissions []string   `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// LegacyCleaner removes pre-namespacing keys on logout.
type LegacyCleaner interface {
	ClearLegacy(ctx context.Context) error
}

type blob struct {
	User      Identity  `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store struct {
	kind    Kind
	key     string
	allowed map[token.Role]bool

	kv     storage.Store
	legacy LegacyCleaner
	logger *logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	identity  *Identity
	token     string
	expiresAt time.Time
}

type Option func(*Store)

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLegacyCleaner(c LegacyCleaner) Option {
	return func(s *Store) { s.legacy = c }
}

// NewTenantStore returns the session for the customer portal. It admits
// user and admin roles.
func NewTenantStore(kv storage.Store, opts ...Option) *Store {
	return newStore(KindTenant, TenantStorageKey, []token.Role{token.RoleUser, token.RoleAdmin}, kv, opts)
}

// NewAdminStore returns the session for the super-admin portal. It admits
// only super_admin.
func NewAdminStore(kv storage.Store, opts ...Option) *Store {
	return newStore(KindAdmin, AdminStorageKey, []token.Role{token.RoleSuperAdmin}, kv, opts)
}

func newStore(kind Kind, key string, roles []token.Role, kv storage.Store, opts []Option) *Store {
	s := &Store{
		kind:    kind,
		key:     key,
		allowed: make(map[token.Role]bool, len(roles)),
		kv:      kv,
		now:     time.Now,
	}
	for _, r := range roles {
		s.allowed[r] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	s.logger = s.logger.WithComponent("session").WithFields("portal", string(kind))
	return s
}

func (s *Store) Kind() Kind { return s.kind }

// check validates raw and returns the identity it carries.
func (s *Store) check(raw string) (*Identity, time.Time, error) {
	claims, err := token.Decode(raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Expired(s.now()) {
		return nil, time.Time{}, ErrTokenExpired
	}
	if !claims.Role.Valid() || claims.Email == "" {
		return nil, time.Time{}, ErrMissingClaims
	}
	if !s.allowed[claims.Role] {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrRoleNotAllowed, claims.Role)
	}
	if claims.Role != token.RoleSuperAdmin && claims.TenantID == nil {
		return nil, time.Time{}, ErrMissingTenant
	}

	return &Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		TenantID:    claims.TenantID,
		TenantName:  claims.TenantName,
		Permissions: claims.Permissions,
	}, claims.ExpiresAt, nil
}

// Establish validates raw and, on success, makes it the current session.
// On failure the current session is left untouched.
func (s *Store) Establish(ctx context.Context, raw string) error {
	identity, expiresAt, err := s.check(raw)
	if err != nil {
		s.logger.LogAuthEvent(ctx, "session_rejected", map[string]interface{}{"reason": err.Error()})
		return err
	}

	data, err := json.Marshal(blob{User: *identity, Token: raw, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	s.identity = identity
	s.token = raw
	s.expiresAt = expiresAt

	s.logger.LogAuthEvent(ctx, "session_established", map[string]interface{}{
		"role":       string(identity.Role),
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}

// Restore loads the persisted session, if any. A stored session that no
// longer validates is discarded. It reports whether a session is active.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load session: %w", err)
	}

	var stored blob
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warnw("Discarding unreadable session", "error", err)
		return false, s.Clear(ctx)
	}

	identity, expiresAt, err := s.check(stored.Token)
	if err != nil {
		s.logger.Debugw("Discarding stored session", "reason", err.Error())
		return false, s.Clear(ctx)
	}

	s.mu.Lock()
	s.identity = identity
	s.token = stored.Token
	s.expiresAt = expiresAt
	s.mu.Unlock()
	return true, nil
}

// Clear logs out: memory and persisted state are wiped and legacy unscoped
// keys are removed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identity = nil
	s.token = ""
	s.expiresAt = time.Time{}

	var errs []error
	if err := s.kv.Delete(ctx, s.key); err != nil {
		errs = append(errs, err)
	}
	if s.legacy != nil {
		if err := s.legacy.ClearLegacy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.LogAuthEvent(ctx, "session_cleared", nil)
	return errors.Join(errs...)
}

// IsValid re-checks expiry. An expired session is cleared.
func (s *Store) IsValid(ctx context.Context) bool {
	s.mu.RLock()
	active := s.token != ""
	expired := !s.now().Before(s.expiresAt)
	s.mu.RUnlock()

	if !active {
		return false
	}
	if expired {
		if err := s.Clear(ctx); err != nil {
			s.logger.Warnw("Failed to clear expired session", "error", err)
		}
		return false
	}
	return true
}

// Require is the guard commands run before touching protected endpoints.
// With no roles it only demands a valid session.
func (s *Store) Require(ctx context.Context, roles ...token.Role) error {
	if !s.IsValid(ctx) {
		return ErrUnauthenticated
	}
	if len(roles) > 0 && !s.HasRole(roles...) {
		return ErrForbidden
	}
	return nil
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Identity returns a copy of the current identity.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	id := *s.identity
	id.Permissions = append([]string(nil), s.identity.Permissions...)
	return id, true
}

func (s *Store) TenantID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil || s.identity.TenantID == nil {
		return 0, false
	}
	return *s.identity.TenantID, true
}

func (s *Store) HasRole(roles ...token.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return false
	}
	for _, r := range roles {
		if s.identity.Role == r {
			return true
		}
	}
	return false
}

func (s *Store) HasPermission(permission string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return false
	}
	if s.identity.Role == token.RoleSuperAdmin {
		return true
	}
	for _, p := range s.identity.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (s *Store) IsTenantAdmin() bool {
	return s.HasRole(token.RoleAdmin)
}
