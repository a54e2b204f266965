// Package state persists the last status confirmed by the Mattermost server,
// so that the agent only publishes when the desired status differs or the
// stored one has expired.
package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// State is the last status applied remotely.
type State struct {
	Identity  string    `json:"last_status_identity"`
	AppliedAt time.Time `json:"applied_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store loads and saves the persisted state. Load returns (nil, nil) when
// nothing has been stored yet.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s State) error
	Close() error
}

// ShouldPublish reports whether a status with the given identity needs to be
// sent. It is false only when prev holds the same identity and has not
// expired yet.
func ShouldPublish(prev *State, identity string, now time.Time) bool {
	if prev == nil {
		return true
	}
	if prev.Identity != identity {
		return true
	}
	return !now.Before(prev.ExpiresAt)
}

// Next builds the state recorded after publishing identity at now. The entry
// expires after refresh, or at remoteExpiry when that is earlier.
func Next(identity string, now time.Time, refresh time.Duration, remoteExpiry time.Time) State {
	exp := now.Add(refresh)
	if !remoteExpiry.IsZero() && remoteExpiry.Before(exp) {
		exp = remoteExpiry
	}
	return State{Identity: identity, AppliedAt: now, ExpiresAt: exp}
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// File names used inside the state directory.
const (
	FileName   = "automattermostatus.state"
	SQLiteName = "automattermostatus.db"
)

// Open returns the store for backend rooted at dir.
func Open(ctx context.Context, backend, dir, appVersion string, logger *zap.Logger) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(filepath.Join(dir, FileName)), nil
	case BackendSQLite:
		return OpenSQLite(ctx, filepath.Join(dir, SQLiteName), appVersion, logger)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// Inspect opens the store for backend rooted at dir without modifying it.
// A store that was never written loads as empty.
func Inspect(ctx context.Context, backend, dir string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(filepath.Join(dir, FileName)), nil
	case BackendSQLite:
		s, err := InspectSQLite(ctx, filepath.Join(dir, SQLiteName))
		if errors.Is(err, fs.ErrNotExist) {
			return emptyStore{}, nil
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// emptyStore stands for a backend with nothing persisted yet.
type emptyStore struct{}

func (emptyStore) Load(context.Context) (*State, error) { return nil, nil }

func (emptyStore) Save(context.Context, State) error {
	return errors.New("state store opened for inspection")
}

func (emptyStore) Close() error { return nil }
