package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finwire/paycore/internal/logging"
	"github.com/finwire/paycore/internal/metrics"
)

// Manager fronts the store with an optional cache and owns record TTLs.
type Manager struct {
	store Store
	cache Cache
	ttl   time.Duration
}

// NewManager creates a manager. cache may be nil.
func NewManager(store Store, cache Cache, ttl time.Duration) *Manager {
	return &Manager{store: store, cache: cache, ttl: ttl}
}

// Check looks up a previously stored result for (key, command). Returns nil
// when the command has not completed before. Expired records are treated as
// absent so a retry after the retention window re-executes.
func (m *Manager) Check(ctx context.Context, key, command string) (*Record, error) {
	now := time.Now().UTC()

	if m.cache != nil {
		if rec, ok := m.cache.Get(ctx, key, command); ok && !rec.Expired(now) {
			metrics.IdempotentReplaysTotal.WithLabelValues(command).Inc()
			return rec, nil
		}
	}

	rec, err := m.store.Get(ctx, key, command)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(now) {
		return nil, nil
	}

	if m.cache != nil {
		m.cache.Set(ctx, rec, time.Until(rec.ExpiresAt))
	}
	metrics.IdempotentReplaysTotal.WithLabelValues(command).Inc()
	return rec, nil
}

// StoreResult records a completed command outcome. When a concurrent request
// already claimed the pair, the winner's record is returned along with
// ErrDuplicateKey so the caller can discard its own work and replay.
func (m *Manager) StoreResult(ctx context.Context, key, command, paymentID string, statusCode int, response any) (*Record, error) {
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{
		Key:        key,
		Command:    command,
		PaymentID:  paymentID,
		StatusCode: statusCode,
		Response:   raw,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}

	if err := m.store.Insert(ctx, rec); err != nil {
		if err == ErrDuplicateKey {
			winner, getErr := m.store.Get(ctx, key, command)
			if getErr != nil {
				return nil, getErr
			}
			return winner, ErrDuplicateKey
		}
		return nil, err
	}

	if m.cache != nil {
		m.cache.Set(ctx, rec, m.ttl)
	}
	return rec, nil
}

// CleanupResult reports what a cleanup pass did, or would do, against the
// durable store and the fast-path cache.
type CleanupResult struct {
	StoreRemoved int64 `json:"storeRemoved"`
	CacheRemoved int64 `json:"cacheRemoved"`
	DryRun       bool  `json:"dryRun"`
}

// Cleanup removes expired records from the store and sweeps the cache when
// it holds expired entries itself. With dryRun it only counts them.
func (m *Manager) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	now := time.Now().UTC()
	result := &CleanupResult{DryRun: dryRun}

	if sw, ok := m.cache.(Sweeper); ok {
		result.CacheRemoved = sw.SweepExpired(ctx, now, dryRun)
	}

	if dryRun {
		n, err := m.store.CountExpired(ctx, now)
		if err != nil {
			return nil, err
		}
		result.StoreRemoved = n
		return result, nil
	}
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	result.StoreRemoved = n
	logging.L(ctx).Info("idempotency cleanup complete",
		"store_removed", result.StoreRemoved,
		"cache_removed", result.CacheRemoved,
	)
	return result, nil
}

// CleanupOlderThan removes records created before now minus the given age,
// regardless of their TTL.
func (m *Manager) CleanupOlderThan(ctx context.Context, age time.Duration, dryRun bool) (*CleanupResult, error) {
	cutoff := time.Now().UTC().Add(-age)
	if dryRun {
		n, err := m.store.CountOlderThan(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		return &CleanupResult{StoreRemoved: n, DryRun: true}, nil
	}
	n, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("idempotency cleanup complete", "store_removed", n, "cutoff", cutoff)
	return &CleanupResult{StoreRemoved: n}, nil
}

// Stats returns store counts for the ops CLI.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.store.Stats(ctx, time.Now().UTC())
}
