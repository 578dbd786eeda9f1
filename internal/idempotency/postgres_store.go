package idempotency

import (
	"context"
	"database/sql"
	"time"

	"github.com/finwire/paycore/internal/storage"
)

// PostgresStore implements Store with PostgreSQL. The (key, command)
// primary key plus ON CONFLICT DO NOTHING makes Insert the arbitration
// point for concurrent duplicates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	res, err := storage.Q(ctx, p.db).ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, command, payment_id, status_code, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key, command) DO NOTHING
	`, rec.Key, rec.Command, rec.PaymentID, rec.StatusCode, []byte(rec.Response), rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key, command string) (*Record, error) {
	rec := &Record{}
	var response []byte
	err := storage.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT key, command, payment_id, status_code, response, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1 AND command = $2
	`, key, command).Scan(&rec.Key, &rec.Command, &rec.PaymentID, &rec.StatusCode, &response, &rec.CreatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Response = response
	return rec, nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresStore) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE expires_at < $1`, now).Scan(&n)
	return n, err
}

func (p *PostgresStore) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE created_at < $1`, cutoff).Scan(&n)
	return n, err
}

func (p *PostgresStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{ByCommand: make(map[string]int64)}

	var oldest sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE expires_at < $1),
			MIN(created_at)
		FROM idempotency_keys
	`, now).Scan(&stats.Total, &stats.Expired, &oldest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.Oldest = oldest.Time
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT command, COUNT(*) FROM idempotency_keys GROUP BY command
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var command string
		var count int64
		if err := rows.Scan(&command, &count); err != nil {
			return nil, err
		}
		stats.ByCommand[command] = count
	}
	return stats, rows.Err()
}
