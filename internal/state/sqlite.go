package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNewerSchema is returned when the database was created by a newer version
// of automattermostatus than the running binary.
var ErrNewerSchema = errors.New("database was created by a newer version of automattermostatus")

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "create current_state and status_history",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE current_state (
					id         INTEGER PRIMARY KEY CHECK (id = 1),
					identity   TEXT    NOT NULL,
					applied_at TEXT    NOT NULL,
					expires_at TEXT    NOT NULL
				)`,
				`CREATE TABLE status_history (
					id         INTEGER PRIMARY KEY AUTOINCREMENT,
					identity   TEXT    NOT NULL,
					applied_at TEXT    NOT NULL,
					expires_at TEXT    NOT NULL
				)`,
				`CREATE INDEX idx_status_history_applied_at ON status_history(applied_at)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// SQLiteStore keeps the current state and an append-only history of applied
// statuses in SQLite via modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex // Serialize migrations
	once sync.Once  // Ensure _migrations table created once

	// noSchema is set on an inspected database that was never migrated.
	noSchema bool
}

// OpenSQLite opens (or creates) the database at path, checks the schema
// version against appVersion and applies pending migrations. A file SQLite
// cannot read as a database is moved aside to path.corrupt-<timestamp> and
// replaced by an empty one, so the agent starts without previous state.
// ErrNewerSchema stays fatal: that file is readable, just not by this binary.
func OpenSQLite(ctx context.Context, path, appVersion string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := openAndMigrate(ctx, path, appVersion)
	if err == nil || !isCorrupt(err) {
		return s, err
	}

	moved := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405"))
	logger.Warn("state database unreadable, starting without previous state",
		zap.String("path", path),
		zap.String("moved_to", moved),
		zap.Error(err),
	)
	if err := quarantine(path, moved); err != nil {
		return nil, fmt.Errorf("move unreadable state database: %w", err)
	}
	return openAndMigrate(ctx, path, appVersion)
}

func openAndMigrate(ctx context.Context, path, appVersion string) (*SQLiteStore, error) {
	s, err := NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := s.CheckVersion(ctx, appVersion); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Migrate(ctx, migrations); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// isCorrupt reports whether err is SQLite refusing the file content itself.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// quarantine renames the database and drops its WAL side files, which belong
// to the unreadable content.
func quarantine(path, moved string) error {
	if err := os.Rename(path, moved); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// NewSQLite opens the database at path and applies the connection pragmas.
// No schema is created.
func NewSQLite(path string) (*SQLiteStore, error) {
	return openDB(path, []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	})
}

// InspectSQLite opens an existing database for reading only: no version
// stamp, no migration, and writes are refused by the connection. A missing
// file returns fs.ErrNotExist. A database without the state schema loads as
// empty.
func InspectSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	s, err := openDB(path, []string{
		"PRAGMA query_only=ON",
		"PRAGMA busy_timeout=5000",
	})
	if err != nil {
		return nil, err
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'current_state'",
	).Scan(&n)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("inspect sqlite %q: %w", path, err)
	}
	s.noSchema = n == 0
	return s, nil
}

func openDB(path string, pragmas []string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite requires SQL statements, not DSN params.
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Load returns the current state, or nil when none has been saved.
func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	if s.noSchema {
		return nil, nil
	}
	var identity, applied, expires string
	err := s.db.QueryRowContext(ctx,
		"SELECT identity, applied_at, expires_at FROM current_state WHERE id = 1",
	).Scan(&identity, &applied, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query current state: %w", err)
	}
	st, err := decodeRow(identity, applied, expires)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Save replaces the current state and appends it to the history.
func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	applied := st.AppliedAt.Format(time.RFC3339Nano)
	expires := st.ExpiresAt.Format(time.RFC3339Nano)
	return s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO current_state (id, identity, applied_at, expires_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				identity = excluded.identity,
				applied_at = excluded.applied_at,
				expires_at = excluded.expires_at`,
			st.Identity, applied, expires,
		)
		if err != nil {
			return fmt.Errorf("upsert current state: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO status_history (identity, applied_at, expires_at) VALUES (?, ?, ?)",
			st.Identity, applied, expires,
		)
		if err != nil {
			return fmt.Errorf("append status history: %w", err)
		}
		return nil
	})
}

// History returns up to limit applied statuses, newest first. A limit of
// zero or less returns the whole history.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]State, error) {
	if s.noSchema {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT identity, applied_at, expires_at FROM status_history ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		var identity, applied, expires string
		if err := rows.Scan(&identity, &applied, &expires); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		st, err := decodeRow(identity, applied, expires)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func decodeRow(identity, applied, expires string) (State, error) {
	a, err := time.Parse(time.RFC3339Nano, applied)
	if err != nil {
		return State{}, fmt.Errorf("parse applied_at %q: %w", applied, err)
	}
	e, err := time.Parse(time.RFC3339Nano, expires)
	if err != nil {
		return State{}, fmt.Errorf("parse expires_at %q: %w", expires, err)
	}
	return State{Identity: identity, AppliedAt: a, ExpiresAt: e}, nil
}

// Tx executes fn within a database transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Migrate runs pending migrations in ascending Version order. Applied
// versions are tracked in the _migrations table.
func (s *SQLiteStore) Migrate(ctx context.Context, ms []Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range ms {
		applied, err := s.isMigrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CheckVersion refuses a database written by a newer binary and records the
// running version otherwise. "dev" always passes.
func (s *SQLiteStore) CheckVersion(ctx context.Context, currentVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema_meta (
			id           INTEGER  PRIMARY KEY CHECK (id = 1),
			app_version  TEXT     NOT NULL,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema meta table: %w", err)
	}

	var stored string
	err = s.db.QueryRowContext(ctx,
		"SELECT app_version FROM _schema_meta WHERE id = 1",
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO _schema_meta (id, app_version, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)",
			currentVersion,
		)
		if err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	if stored != "dev" && currentVersion != "dev" {
		cur, sto := normalizeVersion(currentVersion), normalizeVersion(stored)
		switch c := semver.Compare(cur, sto); {
		case c < 0:
			return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, currentVersion)
		case c == 0:
			return nil
		}
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE _schema_meta SET app_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1",
		currentVersion,
	)
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	return nil
}

func normalizeVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				version     INTEGER  PRIMARY KEY,
				description TEXT     NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`)
	})
	return err
}

func (s *SQLiteStore) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE version = ?", version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, m Migration) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		)
		return err
	})
}
