package idempotency

import (
	"context"
	"sync"
	"time"
)

type recordKey struct {
	key     string
	command string
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*Record
}

// NewMemoryStore creates an empty in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]*Record)}
}

func (m *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{rec.Key, rec.Command}
	if _, exists := m.records[k]; exists {
		return ErrDuplicateKey
	}
	cp := *rec
	m.records[k] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key, command string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{key, command}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &Stats{ByCommand: make(map[string]int64)}
	for _, rec := range m.records {
		stats.Total++
		if rec.Expired(now) {
			stats.Expired++
		}
		stats.ByCommand[rec.Command]++
		if stats.Oldest.IsZero() || rec.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = rec.CreatedAt
		}
	}
	return stats, nil
}
