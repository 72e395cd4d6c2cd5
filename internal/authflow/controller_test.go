package authflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token/tokentest"
)

func TestMFALogin_AcmeScenario(t *testing.T) {
	access := tokentest.TenantUser(t, 7)
	backend := &fakeBackend{
		step1: &api.LoginStep1Response{SessionToken: "st_1", MFAEnabled: true},
		step2: func(code *string) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: access}, nil
		},
	}
	sess := tenantSession(t)
	migrator := &fakeMigrator{}
	c := New(backend, sess, WithMigrator(migrator))
	ctx := context.Background()

	state, err := c.SubmitCredentials(ctx, "user@acme.com", "correct")
	require.NoError(t, err)
	mfa, ok := state.(MFA)
	require.True(t, ok, "got %s", state.Name())
	assert.Equal(t, "st_1", mfa.SessionToken)

	state, err = c.SubmitMFACode(ctx, "123456")
	require.NoError(t, err)
	auth, ok := state.(Authenticated)
	require.True(t, ok)
	assert.Equal(t, "mfa", auth.Method)

	assert.True(t, sess.IsAuthenticated())
	tenantID, ok := sess.TenantID()
	require.True(t, ok)
	assert.Equal(t, int64(7), tenantID)
	require.NotNil(t, auth.Identity.TenantID)
	assert.Equal(t, int64(7), *auth.Identity.TenantID)

	assert.Equal(t, []int64{7}, migrator.tenants)
	require.NotNil(t, auth.Migration)
	assert.Equal(t, []*string{strPtr("123456")}, backend.codes)
	assert.Equal(t, []string{"credentials", "mfa", "authenticated"}, c.History())
}

func TestPasswordOnlyLogin_SkipsMFA(t *testing.T) {
	backend := &fakeBackend{
		step1: &api.LoginStep1Response{SessionToken: "st_1"},
		step2: func(code *string) (*api.TokenResponse, error) {
			if code != nil {
				return nil, &api.APIError{Status: 400, Message: "unexpected code"}
			}
			return &api.TokenResponse{AccessToken: tokentest.TenantUser(t, 3)}, nil
		},
	}
	c := New(backend, tenantSession(t))

	state, err := c.SubmitCredentials(context.Background(), " user@acme.com ", "pw")
	require.NoError(t, err)
	assert.IsType(t, Authenticated{}, state)

	assert.Equal(t, []string{"login-step1", "login-step2"}, backend.Calls())
	assert.NotContains(t, c.History(), "mfa")
	assert.NotContains(t, c.History(), "enrollment")
	assert.Equal(t, []*string{nil}, backend.codes)
}

func TestEnrollment_ConfirmsBeforeStep2(t *testing.T) {
	backend := &fakeBackend{
		step1:  &api.LoginStep1Response{SessionToken: "st_9", MFAEnabled: true, MFASetupRequired: true},
		enroll: &api.MFAEnrollment{Secret: "JBSWY3DP", QRCode: "data:image/png;base64,AA==", BackupCodes: []string{"r1", "r2"}},
		step2: func(code *string) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: tokentest.TenantUser(t, 7)}, nil
		},
	}
	c := New(backend, tenantSession(t))
	ctx := context.Background()

	state, err := c.SubmitCredentials(ctx, "user@acme.com", "correct")
	require.NoError(t, err)
	en, ok := state.(Enrollment)
	require.True(t, ok)
	assert.Equal(t, StepShowCode, en.Step)
	assert.Equal(t, "JBSWY3DP", en.Payload.Secret)

	// the code can only be submitted on the last page
	_, err = c.SubmitEnrollmentCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrWrongState)

	_, err = c.PrevEnrollmentStep()
	assert.ErrorIs(t, err, ErrWrongState)

	state, err = c.NextEnrollmentStep()
	require.NoError(t, err)
	assert.Equal(t, StepShowRecoveryCodes, state.(Enrollment).Step)
	state, err = c.NextEnrollmentStep()
	require.NoError(t, err)
	assert.Equal(t, StepVerifyCode, state.(Enrollment).Step)
	_, err = c.NextEnrollmentStep()
	assert.ErrorIs(t, err, ErrWrongState)

	_, err = c.SubmitEnrollmentCode(ctx, "12345")
	assert.True(t, IsValidation(err))

	state, err = c.SubmitEnrollmentCode(ctx, "123 456")
	require.NoError(t, err)
	assert.IsType(t, Authenticated{}, state)

	assert.Equal(t, []string{"login-step1", "mfa-enroll", "mfa-confirm", "login-step2"}, backend.Calls())
	assert.Equal(t, []*string{strPtr("123456")}, backend.codes)
	assert.Equal(t, []string{"credentials", "enrollment", "authenticated"}, c.History())
}

func TestEnrollment_Step2RetryDoesNotReconfirm(t *testing.T) {
	attempts := 0
	backend := &fakeBackend{
		step1:  &api.LoginStep1Response{SessionToken: "st_9", MFASetupRequired: true},
		enroll: &api.MFAEnrollment{Secret: "S"},
		step2: func(code *string) (*api.TokenResponse, error) {
			attempts++
			if attempts == 1 {
				return nil, &api.APIError{Status: 401, Message: "Invalid code"}
			}
			return &api.TokenResponse{AccessToken: tokentest.TenantUser(t, 7)}, nil
		},
	}
	c := New(backend, tenantSession(t))
	ctx := context.Background()

	_, err := c.SubmitCredentials(ctx, "user@acme.com", "pw")
	require.NoError(t, err)
	_, _ = c.NextEnrollmentStep()
	_, _ = c.NextEnrollmentStep()

	state, err := c.SubmitEnrollmentCode(ctx, "111111")
	require.Error(t, err)
	en := state.(Enrollment)
	assert.True(t, en.Confirmed)
	assert.Equal(t, StepVerifyCode, en.Step)
	assert.Equal(t, "Invalid code", api.UserMessage(en.Err))

	state, err = c.SubmitEnrollmentCode(ctx, "222222")
	require.NoError(t, err)
	assert.IsType(t, Authenticated{}, state)
	assert.Equal(t, []string{"login-step1", "mfa-enroll", "mfa-confirm", "login-step2", "login-step2"}, backend.Calls())
}

func TestMFA_RejectedCodeKeepsSessionToken(t *testing.T) {
	backend := &fakeBackend{
		step1: &api.LoginStep1Response{SessionToken: "st_1", MFAEnabled: true},
		step2: func(code *string) (*api.TokenResponse, error) {
			return nil, &api.APIError{Status: 401, Message: "Invalid MFA code"}
		},
	}
	sess := tenantSession(t)
	c := New(backend, sess)
	ctx := context.Background()

	_, err := c.SubmitCredentials(ctx, "user@acme.com", "correct")
	require.NoError(t, err)

	state, err := c.SubmitMFACode(ctx, "000000")
	require.Error(t, err)
	assert.True(t, api.IsAuthRejected(err))

	mfa, ok := state.(MFA)
	require.True(t, ok)
	assert.Equal(t, "st_1", mfa.SessionToken)
	assert.Equal(t, "Invalid MFA code", api.UserMessage(mfa.Err))
	assert.False(t, sess.IsAuthenticated())
}

func TestValidationNeverReachesNetwork(t *testing.T) {
	backend := &fakeBackend{
		step1: &api.LoginStep1Response{SessionToken: "st_1", MFAEnabled: true},
	}
	c := New(backend, tenantSession(t))
	ctx := context.Background()

	_, err := c.SubmitCredentials(ctx, "", "pw")
	assert.True(t, IsValidation(err))
	_, err = c.SubmitCredentials(ctx, "user@acme.com", "")
	assert.True(t, IsValidation(err))
	assert.Empty(t, backend.Calls())
	assert.IsType(t, Credentials{}, c.State())

	_, err = c.SubmitCredentials(ctx, "user@acme.com", "pw")
	require.NoError(t, err)

	_, err = c.SubmitMFACode(ctx, "abc")
	assert.True(t, IsValidation(err))
	assert.Equal(t, []string{"login-step1"}, backend.Calls())
}

func TestUnreachableDistinctFromRejected(t *testing.T) {
	backend := &fakeBackend{step1Err: errors.Join(api.ErrUnreachable, errors.New("dial tcp: refused"))}
	c := New(backend, tenantSession(t))

	state, err := c.SubmitCredentials(context.Background(), "user@acme.com", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnreachable)
	assert.False(t, api.IsAuthRejected(err))

	cr, ok := state.(Credentials)
	require.True(t, ok)
	assert.Equal(t, "user@acme.com", cr.Email)
	assert.Equal(t, "Server unreachable. Check your connection and try again.", api.UserMessage(cr.Err))
}

func TestWrongStateActions(t *testing.T) {
	c := New(&fakeBackend{}, tenantSession(t))
	ctx := context.Background()

	_, err := c.SubmitMFACode(ctx, "123456")
	assert.ErrorIs(t, err, ErrWrongState)
	_, err = c.NextEnrollmentStep()
	assert.ErrorIs(t, err, ErrWrongState)

	state, err := c.Back()
	require.NoError(t, err)
	assert.IsType(t, Credentials{}, state)
}

func TestBackFromMFA(t *testing.T) {
	backend := &fakeBackend{step1: &api.LoginStep1Response{SessionToken: "st_1", MFAEnabled: true}}
	c := New(backend, tenantSession(t))

	_, err := c.SubmitCredentials(context.Background(), "user@acme.com", "pw")
	require.NoError(t, err)

	state, err := c.Back()
	require.NoError(t, err)
	cr := state.(Credentials)
	assert.Equal(t, "user@acme.com", cr.Email)
	assert.NoError(t, cr.Err)
}

func TestAdminPortal(t *testing.T) {
	t.Run("super admin", func(t *testing.T) {
		backend := &fakeBackend{
			step1: &api.LoginStep1Response{SessionToken: "st_a"},
			step2: func(code *string) (*api.TokenResponse, error) {
				return &api.TokenResponse{AccessToken: tokentest.SuperAdmin(t)}, nil
			},
		}
		sess := session.NewAdminStore(newKV(t))
		c := New(backend, sess)

		state, err := c.SubmitCredentials(context.Background(), "root@portal.example", "pw")
		require.NoError(t, err)
		auth := state.(Authenticated)
		assert.Nil(t, auth.Migration)
		assert.True(t, sess.HasRole(token.RoleSuperAdmin))
	})

	t.Run("tenant user is refused", func(t *testing.T) {
		backend := &fakeBackend{
			step1: &api.LoginStep1Response{SessionToken: "st_u"},
			step2: func(code *string) (*api.TokenResponse, error) {
				return &api.TokenResponse{AccessToken: tokentest.TenantUser(t, 7)}, nil
			},
		}
		sess := session.NewAdminStore(newKV(t))
		c := New(backend, sess)

		state, err := c.SubmitCredentials(context.Background(), "user@acme.com", "pw")
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrRoleNotAllowed)
		assert.Equal(t, "This account cannot sign in to this portal.", api.UserMessage(err))
		assert.IsType(t, Credentials{}, state)
		assert.False(t, sess.IsAuthenticated())
	})
}

func TestMissingAccessToken(t *testing.T) {
	backend := &fakeBackend{
		step1: &api.LoginStep1Response{SessionToken: "st_1"},
		step2: func(code *string) (*api.TokenResponse, error) {
			return &api.TokenResponse{}, nil
		},
	}
	c := New(backend, tenantSession(t))

	_, err := c.SubmitCredentials(context.Background(), "user@acme.com", "pw")
	assert.ErrorIs(t, err, ErrNoAccessCode)
	assert.IsType(t, Credentials{}, c.State())
}

func TestNew_Defaults(t *testing.T) {
	c := New(&fakeBackend{}, tenantSession(t))
	defer c.Close()

	_, ok := c.State().(Credentials)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, c.pollInterval)
	assert.Equal(t, 10*time.Minute, c.ssoTimeout)
}
