package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/localcache"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/session"
	"github.com/CodeMonkeyCybersecurity/portalctl/pkg/token"
)

var errUsage = errors.New("usage")

func usageError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// notLoggedIn carries the message shown when a command needs a session.
type notLoggedIn struct {
	portal session.Kind
	err    error
}

func (e *notLoggedIn) Error() string { return e.err.Error() }
func (e *notLoggedIn) Unwrap() error { return e.err }

func (e *notLoggedIn) UserMessage() string {
	if errors.Is(e.err, session.ErrForbidden) {
		return "Your account does not have permission to do that."
	}
	if e.portal == session.KindAdmin {
		return "Not logged in. Run \"portalctl admin login\" first."
	}
	return "Not logged in. Run \"portalctl login\" first."
}

func localCache() *localcache.Cache {
	return localcache.New(profile)
}

// tenantSession restores the tenant portal session from the profile.
func tenantSession(ctx context.Context) (*session.Store, error) {
	sess := session.NewTenantStore(profile,
		session.WithLogger(log),
		session.WithLegacyCleaner(localCache()),
	)
	if _, err := sess.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	return sess, nil
}

func adminSession(ctx context.Context) (*session.Store, error) {
	sess := session.NewAdminStore(profile, session.WithLogger(log))
	if _, err := sess.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	return sess, nil
}

// requireSession returns the restored session or an error telling the user
// to log in. With roles set the identity must also hold one of them.
func requireSession(ctx context.Context, sess *session.Store, roles ...token.Role) error {
	if err := sess.Require(ctx, roles...); err != nil {
		return &notLoggedIn{portal: sess.Kind(), err: err}
	}
	return nil
}

// apiClient builds a backend client whose credentials come from sess.
// A nil sess yields an anonymous client.
func apiClient(sess *session.Store) (*api.Client, error) {
	opts := []api.Option{api.WithTelemetry(tel)}
	if sess != nil {
		opts = append(opts, api.WithCredentials(sess))
	}
	return api.NewFromConfig(cfg, log, opts...)
}

// tenantOf returns the tenant of the signed-in user.
func tenantOf(sess *session.Store) (int64, error) {
	id, ok := sess.TenantID()
	if !ok {
		return 0, &notLoggedIn{portal: sess.Kind(), err: session.ErrMissingTenant}
	}
	return id, nil
}
