// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/matclab/automattermostatus/internal/state"
)

// NewState returns a State with sensible defaults, suitable for test fixtures.
// Override individual fields with options as needed.
func NewState(opts ...func(*state.State)) state.State {
	applied := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	s := state.State{
		Identity:  "home::house::working at home",
		AppliedAt: applied,
		ExpiresAt: applied.Add(time.Hour),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithIdentity sets the status identity.
func WithIdentity(id string) func(*state.State) {
	return func(s *state.State) { s.Identity = id }
}

// WithAppliedAt sets when the status was applied.
func WithAppliedAt(t time.Time) func(*state.State) {
	return func(s *state.State) { s.AppliedAt = t }
}

// WithExpiresAt sets when the stored status stops being trusted.
func WithExpiresAt(t time.Time) func(*state.State) {
	return func(s *state.State) { s.ExpiresAt = t }
}

// MemStore is an in-memory state.Store. LoadErr and SaveErr are returned by
// Load and Save when set; Saves counts Save calls, failed ones included.
type MemStore struct {
	mu      sync.Mutex
	State   *state.State
	LoadErr error
	SaveErr error
	Saves   int
}

// NewMemStore returns a store holding prev, or nothing when prev is nil.
func NewMemStore(prev *state.State) *MemStore {
	return &MemStore{State: prev}
}

// Load returns a copy of the stored state.
func (m *MemStore) Load(context.Context) (*state.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.State == nil {
		return nil, nil
	}
	cp := *m.State
	return &cp, nil
}

// Save records s unless SaveErr is set.
func (m *MemStore) Save(_ context.Context, s state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.State = &s
	return nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

var _ state.Store = (*MemStore)(nil)
