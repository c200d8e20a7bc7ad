package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpc-mesh/pkg/model"
)

// MemoryStore keeps every saved snapshot in process. Used by tests and the fake provider.
type MemoryStore struct {
	mu      sync.RWMutex
	history []model.Snapshot
	current int // index into history, -1 when empty
	locks   map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{current: -1, locks: make(map[string]bool)}
}

func (m *MemoryStore) Save(_ context.Context, s model.Snapshot) (model.Snapshot, error) {
	if err := validate(s); err != nil {
		return model.Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s = s.Clone()
	s.Version = int64(len(m.history) + 1)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, s)
	m.current = len(m.history) - 1
	return s.Clone(), nil
}

func (m *MemoryStore) Load(_ context.Context) (model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current < 0 {
		return model.Snapshot{}, ErrNoSnapshot
	}
	return m.history[m.current].Clone(), nil
}

// History returns up to limit of the most recent snapshots, oldest first. limit <= 0 returns all.
func (m *MemoryStore) History(_ context.Context, limit int) ([]model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]model.Snapshot, 0, limit)
	for _, s := range m.history[len(m.history)-limit:] {
		out = append(out, s.Clone())
	}
	return out, nil
}

// Rollback makes an earlier version the one Load returns.
func (m *MemoryStore) Rollback(_ context.Context, version int64) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.history {
		if s.Version == version {
			m.current = i
			return s.Clone(), nil
		}
	}
	return model.Snapshot{}, fmt.Errorf("%w: %d", ErrNoVersion, version)
}

// Lock is an in-process lock; it only guards runners sharing this store value.
func (m *MemoryStore) Lock(_ context.Context, name string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[name] {
		return nil, ErrLocked
	}
	m.locks[name] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, name)
		m.mu.Unlock()
	}, nil
}
