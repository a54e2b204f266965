package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matclab/automattermostatus/internal/state"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "automattermostatus dev")
}

func TestConfigInitThenShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automattermostatus.toml")

	out, _, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, _, err = execute(t, "config", "show", "--config", path, "--mm-secret", "hunter2", "--mm-user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "mattermost.example.com")
	assert.Contains(t, out, "alice")
	assert.NotContains(t, out, "hunter2")
}

func TestConfigShow_ReportsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automattermostatus.toml")
	require.NoError(t, os.WriteFile(path, []byte("mm_user = \"alice\"\nbegin = \"25:00\"\n"), 0o600))

	_, stderr, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "begin")
}

func TestStateShow_Empty(t *testing.T) {
	out, _, err := execute(t, "state", "show", "--state-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "no status published yet")
}

func TestStateShow_SQLiteHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := state.Open(ctx, state.BackendSQLite, dir, "dev", nil)
	require.NoError(t, err)
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, state.Next("home::house::working at home", now, time.Hour, time.Time{})))
	require.NoError(t, store.Save(ctx, state.Next("corp::office::At office", now.Add(time.Hour), time.Hour, time.Time{})))
	require.NoError(t, store.Close())

	out, _, err := execute(t, "state", "show", "--state-dir", dir, "--state-backend", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "status:     corp::office::At office")
	assert.Contains(t, out, "history:")
	assert.Contains(t, out, "home::house::working at home")
}

func TestStateShow_LeavesSQLiteUntouched(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "state", "show", "--state-dir", dir, "--state-backend", "sqlite")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, state.SQLiteName))
	assert.True(t, os.IsNotExist(err), "inspection does not create the database")

	ctx := context.Background()
	store, err := state.Open(ctx, state.BackendSQLite, dir, "2.0.0", nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, _, err = execute(t, "state", "show", "--state-dir", dir, "--state-backend", "sqlite")
	require.NoError(t, err)

	_, err = state.Open(ctx, state.BackendSQLite, dir, "1.0.0", nil)
	assert.ErrorIs(t, err, state.ErrNewerSchema, "the version stamp written by 2.0.0 is kept")
}

func TestRun_InvalidConfigFails(t *testing.T) {
	_, _, err := execute(t, "run", "--mm-user", "alice", "--state-backend", "redis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_backend")
}

func TestServiceInstall_UnsupportedOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("installs a real service")
	}
	_, _, err := execute(t, "service", "install")
	assert.Error(t, err)
}
