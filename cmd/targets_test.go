package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
)

func TestTargets_AddListRemove(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	out, err := env.run(t, "", "targets", "add", "--name", "shop", "--url", "https://shop.acme.com",
		"--in-scope", "shop.acme.com,api.acme.com")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Added target shop")

	out, err = env.run(t, "", "targets", "list", "-o", "json")
	require.NoError(t, err, out)
	var targets []struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		InScope []string `json:"in_scope"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "shop", targets[0].Name)
	assert.Equal(t, []string{"shop.acme.com", "api.acme.com"}, targets[0].InScope)

	out, err = env.run(t, "", "queue", "add", "--target", targets[0].ID, "--at", "1h", "--priority", "3")
	require.NoError(t, err, out)

	out, err = env.run(t, "", "queue", "list", "--pending", "-o", "yaml")
	require.NoError(t, err, out)
	assert.Contains(t, out, "target_id: "+targets[0].ID)
	assert.Contains(t, out, "priority: 3")

	out, err = env.run(t, "", "targets", "remove", targets[0].ID)
	require.NoError(t, err, out)

	out, err = env.run(t, "", "queue", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No results.", "removing a target drops its queue entries")
}

func TestTargets_RequiresLogin(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "", "targets", "list")
	require.Error(t, err)
	assert.Equal(t, `Not logged in. Run "portalctl login" first.`, api.UserMessage(err))
}

func TestTargets_AddValidation(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	_, err := env.run(t, "", "targets", "add", "--name", " ", "--url", "https://shop.acme.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUsage)
}

func TestTargets_AddPrivateTarget(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	_, err := env.run(t, "", "targets", "add", "--name", "lab", "--url", "http://10.0.0.5")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUsage)

	out, err := env.run(t, "", "targets", "add", "--name", "lab", "--url", "http://10.0.0.5", "--allow-private")
	require.NoError(t, err, out)
	assert.Contains(t, out, "private or local network")
}

func TestTargets_AddWithScopeFile(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	scopePath := filepath.Join(t.TempDir(), "scope.txt")
	require.NoError(t, os.WriteFile(scopePath, []byte("*.acme.com\n[out-of-scope]\nlegacy.acme.com\n"), 0600))

	out, err := env.run(t, "", "targets", "add", "--name", "blog", "--url", "https://blog.example.org",
		"--scope-file", scopePath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "not covered by the target's in-scope list")

	out, err = env.run(t, "", "targets", "list", "-o", "json")
	require.NoError(t, err, out)
	var targets []struct {
		InScope    []string `json:"in_scope"`
		OutOfScope []string `json:"out_of_scope"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, []string{"*.acme.com"}, targets[0].InScope)
	assert.Equal(t, []string{"legacy.acme.com"}, targets[0].OutOfScope)
}

func TestQueue_AddUnknownTarget(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	_, err := env.run(t, "", "queue", "add", "--target", "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestTargetsRemote(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.portal.mu.Lock()
	env.portal.targets = append(env.portal.targets, map[string]interface{}{
		"id": 9, "name": "intranet", "url": "https://intranet.acme.com",
	})
	env.portal.mu.Unlock()

	out, err := env.run(t, "", "targets", "remote")
	require.NoError(t, err, out)
	assert.Contains(t, out, "intranet")
}

func TestTargetsRemote_UnauthorizedEndsSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.portal.mu.Lock()
	env.portal.rejectAll = true
	env.portal.mu.Unlock()

	_, err := env.run(t, "", "targets", "remote")
	require.Error(t, err)
	assert.Equal(t, "Not authenticated", api.UserMessage(err))

	_, err = env.run(t, "", "whoami")
	require.Error(t, err, "a rejected token logs the tenant user out")
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSchedule("", now)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	got, err = parseSchedule("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), got)

	got, err = parseSchedule("2026-03-02T08:00:00+01:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), got)

	_, err = parseSchedule("-1h", now)
	assert.ErrorIs(t, err, errUsage)
	_, err = parseSchedule("tomorrow", now)
	assert.ErrorIs(t, err, errUsage)
}
