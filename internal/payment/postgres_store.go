package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/finwire/paycore/internal/storage"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pay *Payment) error {
	metadata, err := marshalMetadata(pay.Metadata)
	if err != nil {
		return err
	}
	_, err = storage.Q(ctx, p.db).ExecContext(ctx, `
		INSERT INTO payments
			(id, entity_type, entity_id, amount_minor, currency, method, status, provider, provider_ref, authorized_minor, captured_minor, refunded_minor, description, metadata, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14, $15, $16, $17)
	`, pay.ID, pay.EntityType, pay.EntityID, pay.AmountMinor, pay.Currency, pay.Method, string(pay.Status),
		pay.Provider, pay.ProviderRef, pay.AuthorizedMinor, pay.CapturedMinor, pay.RefundedMinor,
		pay.Description, metadata, pay.Version, pay.CreatedAt, pay.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := storage.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, amount_minor, currency, COALESCE(method, ''), status, COALESCE(provider, ''),
			COALESCE(provider_ref, ''), authorized_minor, captured_minor, refunded_minor, COALESCE(description, ''), metadata, version, created_at, updated_at
		FROM payments WHERE id = $1
	`, id)
	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return pay, err
}

// Update writes the payment and bumps its version. The WHERE clause on the
// previous version makes racing commands fail instead of silently clobbering.
func (p *PostgresStore) Update(ctx context.Context, pay *Payment) error {
	metadata, err := marshalMetadata(pay.Metadata)
	if err != nil {
		return err
	}
	res, err := storage.Q(ctx, p.db).ExecContext(ctx, `
		UPDATE payments SET
			status = $1, provider_ref = NULLIF($2, ''), authorized_minor = $3,
			captured_minor = $4, refunded_minor = $5,
			metadata = $6, version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8
	`, string(pay.Status), pay.ProviderRef, pay.AuthorizedMinor, pay.CapturedMinor,
		pay.RefundedMinor, metadata, pay.ID, pay.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	pay.Version++
	return nil
}

func (p *PostgresStore) List(ctx context.Context, entityType, entityID string, limit int) ([]*Payment, error) {
	rows, err := storage.Q(ctx, p.db).QueryContext(ctx, `
		SELECT id, entity_type, entity_id, amount_minor, currency, COALESCE(method, ''), status, COALESCE(provider, ''),
			COALESCE(provider_ref, ''), authorized_minor, captured_minor, refunded_minor, COALESCE(description, ''), metadata, version, created_at, updated_at
		FROM payments
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, pay)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	pay := &Payment{}
	var status string
	var metadata []byte
	err := row.Scan(&pay.ID, &pay.EntityType, &pay.EntityID, &pay.AmountMinor, &pay.Currency,
		&pay.Method, &status, &pay.Provider, &pay.ProviderRef, &pay.AuthorizedMinor,
		&pay.CapturedMinor, &pay.RefundedMinor, &pay.Description,
		&metadata, &pay.Version, &pay.CreatedAt, &pay.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pay.Status = Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &pay.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", pay.ID, err)
		}
	}
	return pay, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}
