package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/localcache"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/storage"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token/tokentest"
)

func newKV(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(),
		config.StorageConfig{Driver: "sqlite3", DSN: ":memory:", MaxConnections: 1},
		config.RedisConfig{}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEstablish_TenantUser(t *testing.T) {
	kv := newKV(t)
	s := NewTenantStore(kv)
	ctx := context.Background()

	require.NoError(t, s.Establish(ctx, tokentest.TenantUser(t, 7)))

	assert.True(t, s.IsAuthenticated())
	assert.True(t, s.IsValid(ctx))
	id, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, "user@acme.com", id.Email)
	tenantID, ok := s.TenantID()
	require.True(t, ok)
	assert.Equal(t, int64(7), tenantID)
	assert.True(t, s.HasPermission("targets:write"))
	assert.False(t, s.HasPermission("tenants:write"))
	assert.False(t, s.HasRole(token.RoleSuperAdmin))
	assert.False(t, s.IsTenantAdmin())

	_, err := kv.Get(ctx, TenantStorageKey)
	assert.NoError(t, err)
	_, err = kv.Get(ctx, AdminStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEstablish_RejectsWithoutMutation(t *testing.T) {
	tenantID := int64(7)
	tests := []struct {
		name    string
		opts    tokentest.Options
		wantErr error
	}{
		{
			name:    "expired",
			opts:    tokentest.Options{Email: "u@acme.com", Role: "user", TenantID: &tenantID, ExpiresIn: -time.Minute},
			wantErr: ErrTokenExpired,
		},
		{
			name:    "no exp claim",
			opts:    tokentest.Options{Email: "u@acme.com", Role: "user", TenantID: &tenantID, NoExpiry: true},
			wantErr: ErrTokenExpired,
		},
		{
			name:    "missing role",
			opts:    tokentest.Options{Email: "u@acme.com", TenantID: &tenantID},
			wantErr: ErrMissingClaims,
		},
		{
			name:    "unknown role",
			opts:    tokentest.Options{Email: "u@acme.com", Role: "owner", TenantID: &tenantID},
			wantErr: ErrMissingClaims,
		},
		{
			name:    "missing email",
			opts:    tokentest.Options{Role: "user", TenantID: &tenantID},
			wantErr: ErrMissingClaims,
		},
		{
			name:    "tenant user without tenant",
			opts:    tokentest.Options{Email: "u@acme.com", Role: "user"},
			wantErr: ErrMissingTenant,
		},
		{
			name:    "super admin on tenant portal",
			opts:    tokentest.Options{Email: "root@portal", Role: "super_admin"},
			wantErr: ErrRoleNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newKV(t)
			s := NewTenantStore(kv)
			ctx := context.Background()

			previous := tokentest.TenantUser(t, 3)
			require.NoError(t, s.Establish(ctx, previous))

			err := s.Establish(ctx, tokentest.Sign(t, tt.opts))
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, previous, s.Token())
			tenant, ok := s.TenantID()
			require.True(t, ok)
			assert.Equal(t, int64(3), tenant)
		})
	}
}

func TestEstablish_MalformedToken(t *testing.T) {
	s := NewTenantStore(newKV(t))
	err := s.Establish(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, s.IsAuthenticated())
}

func TestAdminStore_OnlySuperAdmin(t *testing.T) {
	kv := newKV(t)
	admin := NewAdminStore(kv)
	tenant := NewTenantStore(kv)
	ctx := context.Background()

	assert.ErrorIs(t, admin.Establish(ctx, tokentest.TenantUser(t, 7)), ErrRoleNotAllowed)
	require.NoError(t, admin.Establish(ctx, tokentest.SuperAdmin(t)))
	assert.True(t, admin.HasRole(token.RoleSuperAdmin))
	assert.True(t, admin.HasPermission("anything"))

	// the two portals never share state
	assert.False(t, tenant.IsAuthenticated())
	restored, err := tenant.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestIsValid_ExpiryClears(t *testing.T) {
	kv := newKV(t)
	now := time.Now()
	s := NewTenantStore(kv, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Establish(ctx, tokentest.TenantUser(t, 7)))
	assert.True(t, s.IsValid(ctx))

	now = now.Add(2 * time.Hour)
	assert.False(t, s.IsValid(ctx))
	assert.False(t, s.IsAuthenticated())
	_, err := kv.Get(ctx, TenantStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Require(ctx), ErrUnauthenticated)
}

func TestClear_RemovesLegacyKeys(t *testing.T) {
	kv := newKV(t)
	cache := localcache.New(kv)
	s := NewTenantStore(kv, WithLegacyCleaner(cache))
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, localcache.LegacyTargetsKey, []byte(`[]`)))
	require.NoError(t, s.Establish(ctx, tokentest.TenantUser(t, 7)))
	require.NoError(t, s.Clear(ctx))

	assert.False(t, s.IsAuthenticated())
	_, ok := s.Identity()
	assert.False(t, ok)
	_, err := kv.Get(ctx, localcache.LegacyTargetsKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = kv.Get(ctx, TenantStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRestore(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	first := NewTenantStore(kv)
	require.NoError(t, first.Establish(ctx, tokentest.TenantUser(t, 7)))

	second := NewTenantStore(kv)
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, first.Token(), second.Token())

	// an expired stored session is discarded
	now := time.Now().Add(3 * time.Hour)
	third := NewTenantStore(kv, WithClock(func() time.Time { return now }))
	restored, err = third.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	_, err = kv.Get(ctx, TenantStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRestore_CorruptBlob(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, AdminStorageKey, []byte("{")))

	s := NewAdminStore(kv)
	restored, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestRequire(t *testing.T) {
	s := NewTenantStore(newKV(t))
	ctx := context.Background()

	assert.ErrorIs(t, s.Require(ctx), ErrUnauthenticated)

	require.NoError(t, s.Establish(ctx, tokentest.TenantUser(t, 7)))
	assert.NoError(t, s.Require(ctx))
	assert.NoError(t, s.Require(ctx, token.RoleUser, token.RoleAdmin))
	assert.ErrorIs(t, s.Require(ctx, token.RoleAdmin), ErrForbidden)
}
