// Package idempotency stores completed command results keyed by
// (idempotency key, command) so retries replay the first outcome instead
// of re-executing it.
//
// Results are cached for successes and definitive provider rejections.
// Indeterminate provider failures are never stored; the caller may retry
// those and reach the provider again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicateKey is returned by Store.Insert when another request already
// claimed the (key, command) pair. The caller re-reads the winner's result.
var ErrDuplicateKey = errors.New("idempotency: key already claimed")

// Record is one stored command outcome.
type Record struct {
	Key        string          `json:"key"`
	Command    string          `json:"command"`
	PaymentID  string          `json:"paymentId"`
	StatusCode int             `json:"statusCode"`
	Response   json.RawMessage `json:"response"`
	CreatedAt  time.Time       `json:"createdAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

// Expired reports whether the record is past its retention window.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Stats summarizes the idempotency store for the ops CLI.
type Stats struct {
	Total     int64            `json:"total"`
	Expired   int64            `json:"expired"`
	ByCommand map[string]int64 `json:"byCommand"`
	Oldest    time.Time        `json:"oldest,omitempty"`
}

// Store persists idempotency records.
//
// Insert must be atomic with respect to concurrent inserts of the same
// (key, command): exactly one caller wins, the rest get ErrDuplicateKey.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, key, command string) (*Record, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountExpired(ctx context.Context, now time.Time) (int64, error)
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

// Cache is an optional fast path in front of the store. Implementations
// must treat it as best-effort; the store remains the source of truth.
type Cache interface {
	Get(ctx context.Context, key, command string) (*Record, bool)
	Set(ctx context.Context, rec *Record, ttl time.Duration)
	Delete(ctx context.Context, key, command string)
}

// Sweeper is implemented by caches that hold expired entries until told to
// drop them. Caches whose backend evicts on TTL (Redis) need not implement
// it; cleanup then reports zero cache removals.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time, dryRun bool) int64
}
