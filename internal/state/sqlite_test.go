package state

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), SQLiteName)
	s, err := OpenSQLite(context.Background(), path, "1.0.0", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenSQLite(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	s := tempDB(t)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_SaveLoadHistory(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	first := State{Identity: "corp::office::At office", AppliedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	second := State{Identity: "home::house::At home", AppliedAt: t0.Add(2 * time.Hour), ExpiresAt: t0.Add(3 * time.Hour)}
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Identity, got.Identity)
	assert.True(t, second.AppliedAt.Equal(got.AppliedAt))
	assert.True(t, second.ExpiresAt.Equal(got.ExpiresAt))

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.Identity, hist[0].Identity, "newest first")
	assert.Equal(t, first.Identity, hist[1].Identity)

	hist, err = s.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, migrations))

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSQLiteStore_TxRollback(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO status_history (identity, applied_at, expires_at) VALUES ('x', '', '')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSQLiteStore_CheckVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteName)
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, "1.2.0", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	tests := []struct {
		version string
		wantErr bool
	}{
		{"1.2.0", false},
		{"v1.3.0", false},
		{"1.1.0", true},
		{"dev", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			s, err := OpenSQLite(ctx, path, tt.version, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNewerSchema)
				return
			}
			require.NoError(t, err)
			s.Close()
		})
	}
}

func TestNewSQLite_InvalidPath(t *testing.T) {
	_, err := NewSQLite("/nonexistent/path/to/db")
	assert.Error(t, err)
}

func TestOpenSQLite_UnreadableFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SQLiteName)
	garbage := []byte("this is not an sqlite database, just some leftover bytes\n")
	require.NoError(t, os.WriteFile(path, append(garbage, make([]byte, 4096)...), 0o600))

	core, logs := observer.New(zapcore.WarnLevel)
	ctx := context.Background()
	s, err := OpenSQLite(ctx, path, "1.0.0", zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, Next("corp::office::At office", now, time.Hour, time.Time{})))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "corp::office::At office", got.Identity)

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	kept, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, garbage, kept[:len(garbage)], "unreadable content is kept aside")
	assert.Equal(t, 1, logs.FilterMessage("state database unreadable, starting without previous state").Len())
}

func TestOpen_UnreadableSQLiteIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SQLiteName), []byte("garbage garbage garbage garbage garbage garbage garbage garbage garbage garbage garbage garbage garbage garbage"), 0o600))

	s, err := Open(context.Background(), BackendSQLite, dir, "1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenSQLite_NewerSchemaStaysFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteName)
	ctx := context.Background()
	s, err := OpenSQLite(ctx, path, "2.0.0", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenSQLite(ctx, path, "1.0.0", nil)
	assert.ErrorIs(t, err, ErrNewerSchema)
	moved, _ := filepath.Glob(path + ".corrupt-*")
	assert.Empty(t, moved)
}

func TestInspectSQLite_ReadsWithoutWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteName)
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, "2.0.0", nil)
	require.NoError(t, err)
	now := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, Next("home::house::At home", now, time.Hour, time.Time{})))
	require.NoError(t, s.Close())

	ro, err := InspectSQLite(ctx, path)
	require.NoError(t, err)
	got, err := ro.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "home::house::At home", got.Identity)
	hist, err := ro.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	assert.Error(t, ro.Save(ctx, Next("corp::office::At office", now, time.Hour, time.Time{})), "writes are refused")
	require.NoError(t, ro.Close())

	var stored string
	w, err := NewSQLite(path)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.DB().QueryRowContext(ctx, "SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored))
	assert.Equal(t, "2.0.0", stored, "inspection leaves the version stamp alone")
}

func TestInspect_MissingDatabaseIsNotCreated(t *testing.T) {
	dir := t.TempDir()
	s, err := Inspect(context.Background(), BackendSQLite, dir)
	require.NoError(t, err)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(dir, SQLiteName))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestInspectSQLite_NoSchemaLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteName)
	w, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	s, err := InspectSQLite(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}
