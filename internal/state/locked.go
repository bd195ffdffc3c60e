package state

import (
	"context"
	"sync"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Locked serializes writes per environment. Saves to different
// environments proceed in parallel.
type Locked struct {
	core.FingerprintStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocked wraps store.
func NewLocked(store core.FingerprintStore) *Locked {
	if l, ok := store.(*Locked); ok {
		return l
	}
	return &Locked{FingerprintStore: store, locks: make(map[string]*sync.Mutex)}
}

func (l *Locked) lock(env string) func() {
	l.mu.Lock()
	m, ok := l.locks[env]
	if !ok {
		m = &sync.Mutex{}
		l.locks[env] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Save holds the environment's lock for the duration of the write.
func (l *Locked) Save(ctx context.Context, snap *core.Snapshot) error {
	unlock := l.lock(snap.Environment)
	defer unlock()
	return l.FingerprintStore.Save(ctx, snap)
}

// Update loads the snapshot for env, passes it to fn and saves what fn
// returns, all while holding the environment's lock. Nothing is written
// when fn returns an error.
func (l *Locked) Update(ctx context.Context, env string, fn func(current *core.Snapshot) (*core.Snapshot, error)) error {
	unlock := l.lock(env)
	defer unlock()

	current, err := l.FingerprintStore.Load(ctx, env)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return l.FingerprintStore.Save(ctx, next)
}

// Unwrap returns the wrapped store.
func (l *Locked) Unwrap() core.FingerprintStore {
	return l.FingerprintStore
}
