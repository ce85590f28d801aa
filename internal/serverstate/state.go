// Package serverstate tracks whether the server is ready to take generate
// requests. The state is published through a pluggable Store so it can be
// read from Redis; the draining flag that drives shutdown stays in process.
package serverstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/genserve/internal/logx"
)

type Status string

const (
	StatusNotReady Status = "not_ready"
	StatusReady    Status = "ready"
	StatusDraining Status = "draining"
	StatusUnknown  Status = "unknown"
)

// State is stored as a unit so readers never see a status without its
// draining flag.
type State struct {
	Status   Status    `json:"status"`
	Draining bool      `json:"draining"`
	Since    time.Time `json:"since"`
}

// Store persists State.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
}

// MemoryStore keeps state in process.
type MemoryStore struct {
	mu sync.RWMutex
	st State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: State{Status: StatusNotReady, Since: time.Now()}}
}

func (m *MemoryStore) Load(context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st, nil
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
	return nil
}

// Tracker reads and updates the server state through a Store.
type Tracker struct {
	store    Store
	draining atomic.Bool
}

// NewTracker returns a Tracker over s, or over a MemoryStore when s is nil.
func NewTracker(s Store) *Tracker {
	if s == nil {
		s = NewMemoryStore()
	}
	return &Tracker{store: s}
}

// Get returns the current state. Store errors yield StatusUnknown.
func (t *Tracker) Get(ctx context.Context) State {
	st, err := t.store.Load(ctx)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("load server state")
		return State{Status: StatusUnknown}
	}
	return st
}

// Reset overwrites whatever a previous process left in the store with a
// not-ready state.
func (t *Tracker) Reset(ctx context.Context) {
	t.save(ctx, State{Status: StatusNotReady, Since: time.Now()})
}

// SetStatus records a new status. Once this process drains it stays draining.
func (t *Tracker) SetStatus(ctx context.Context, s Status) {
	if t.draining.Load() && s != StatusDraining {
		return
	}
	t.save(ctx, State{Status: s, Draining: t.draining.Load(), Since: time.Now()})
}

// StartDrain marks the server as draining.
func (t *Tracker) StartDrain(ctx context.Context) {
	t.draining.Store(true)
	t.save(ctx, State{Status: StatusDraining, Draining: true, Since: time.Now()})
}

// IsDraining reports whether this process has started draining.
func (t *Tracker) IsDraining(context.Context) bool {
	return t.draining.Load()
}

// Healthy reports whether the server is ready and not draining.
func (t *Tracker) Healthy(ctx context.Context) bool {
	if t.draining.Load() {
		return false
	}
	return t.Get(ctx).Status == StatusReady
}

func (t *Tracker) save(ctx context.Context, st State) {
	if err := t.store.Save(ctx, st); err != nil {
		logx.Log.Error().Err(err).Str("status", string(st.Status)).Msg("save server state")
	}
}
