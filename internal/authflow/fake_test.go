package authflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/migration"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/storage"
)

// fakeBackend scripts the auth endpoints and records the call order.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	codes []*string

	step1    *api.LoginStep1Response
	step1Err error
	enroll   *api.MFAEnrollment
	confirm  error
	step2    func(code *string) (*api.TokenResponse, error)

	ssoInit    *api.SSOInitiation
	ssoTenants map[string]bool // nil accepts any tenant
	ssoStatus func(n int) (*api.SSOSessionStatus, error)
	polls     atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
	pollDelay time.Duration
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) LoginStep1(ctx context.Context, email, password string) (*api.LoginStep1Response, error) {
	f.record("login-step1")
	if f.step1Err != nil {
		return nil, f.step1Err
	}
	return f.step1, nil
}

func (f *fakeBackend) MFAEnroll(ctx context.Context, sessionToken string) (*api.MFAEnrollment, error) {
	f.record("mfa-enroll")
	return f.enroll, nil
}

func (f *fakeBackend) MFAConfirm(ctx context.Context, sessionToken, code string) error {
	f.record("mfa-confirm")
	return f.confirm
}

func (f *fakeBackend) LoginStep2(ctx context.Context, sessionToken string, code *string) (*api.TokenResponse, error) {
	f.record("login-step2")
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	return f.step2(code)
}

func (f *fakeBackend) SSOInitiate(ctx context.Context, req api.SSOInitiateRequest) (*api.SSOInitiation, error) {
	f.record("sso-initiate:" + req.TenantIdentifier)
	if f.ssoTenants != nil && !f.ssoTenants[req.TenantIdentifier] {
		return nil, &api.APIError{Status: 404, Message: "SSO is not configured for this organization."}
	}
	return f.ssoInit, nil
}

func (f *fakeBackend) SSOSessionStatus(ctx context.Context, sessionID string) (*api.SSOSessionStatus, error) {
	n := int(f.polls.Add(1))
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxFlight.Load()
		if cur <= peak || f.maxFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.pollDelay > 0 {
		select {
		case <-time.After(f.pollDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.ssoStatus(n)
}

type fakeMigrator struct {
	mu      sync.Mutex
	tenants []int64
}

func (m *fakeMigrator) Run(ctx context.Context, tenantID int64) (*migration.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = append(m.tenants, tenantID)
	return &migration.Report{TenantID: tenantID}, nil
}

type recordingOpener struct {
	mu     sync.Mutex
	opened []string
	closed bool
}

func (o *recordingOpener) Open(ctx context.Context, rawURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, rawURL)
	return nil
}

func (o *recordingOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func newKV(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(),
		config.StorageConfig{Driver: "sqlite3", DSN: ":memory:", MaxConnections: 1},
		config.RedisConfig{}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func tenantSession(t *testing.T) *session.Store {
	t.Helper()
	return session.NewTenantStore(newKV(t))
}

func strPtr(s string) *string { return &s }
