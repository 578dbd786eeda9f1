package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finwire/paycore/internal/pagination"
	"github.com/finwire/paycore/internal/storage"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordTransaction inserts the transaction row and upserts the balance in
// one database transaction. The balance adjustment is done with native
// BIGINT arithmetic inside the upsert, never read-modify-write, so two
// concurrent writers for the same key both apply.
//
// When the context already carries a transaction (pipeline atomic unit),
// both writes join it instead of opening their own.
func (p *PostgresStore) RecordTransaction(ctx context.Context, txn *Transaction) error {
	return storage.WithinTx(ctx, p.db, func(ctx context.Context) error {
		q := storage.Q(ctx, p.db)

		var metadata []byte
		if len(txn.Metadata) > 0 {
			var err error
			metadata, err = json.Marshal(txn.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO ledger_transactions
				(id, payment_id, entity_type, entity_id, amount_minor, currency, direction, description, metadata, created_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
		`, txn.ID, txn.PaymentID, txn.EntityType, txn.EntityID, txn.AmountMinor,
			txn.Currency, string(txn.Direction), txn.Description, metadata, txn.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO ledger_balances (entity_type, entity_id, currency, balance_minor, last_transaction_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (entity_type, entity_id, currency) DO UPDATE SET
				balance_minor       = ledger_balances.balance_minor + $4,
				last_transaction_id = $5,
				updated_at          = NOW()
		`, txn.EntityType, txn.EntityID, txn.Currency, txn.SignedAmount(), txn.ID)
		if err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}

		return nil
	})
}

// GetBalance retrieves the stored balance; unknown keys are 0.
func (p *PostgresStore) GetBalance(ctx context.Context, entityType, entityID, currency string) (int64, error) {
	var balance int64
	err := storage.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT balance_minor FROM ledger_balances
		WHERE entity_type = $1 AND entity_id = $2 AND currency = $3
	`, entityType, entityID, currency).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListTransactions returns transactions newest-first, cursor-paginated.
func (p *PostgresStore) ListTransactions(ctx context.Context, entityType, entityID string, opts ListOptions) ([]*Transaction, string, error) {
	cursor, err := pagination.Decode(opts.Cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT id, COALESCE(payment_id, ''), entity_type, entity_id, amount_minor, currency, direction, description, metadata, created_at
		FROM ledger_transactions
		WHERE entity_type = $1 AND entity_id = $2`
	args := []any{entityType, entityID}

	if opts.Currency != "" {
		args = append(args, opts.Currency)
		query += fmt.Sprintf(" AND currency = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, opts.Limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := storage.Q(ctx, p.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	txns, err := scanTransactions(rows)
	if err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(txns, opts.Limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, nil
}

// ListByPayment returns all transactions for a payment, oldest-first.
func (p *PostgresStore) ListByPayment(ctx context.Context, paymentID string) ([]*Transaction, error) {
	rows, err := storage.Q(ctx, p.db).QueryContext(ctx, `
		SELECT id, COALESCE(payment_id, ''), entity_type, entity_id, amount_minor, currency, direction, description, metadata, created_at
		FROM ledger_transactions
		WHERE payment_id = $1
		ORDER BY created_at ASC, id ASC
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// AllBalances returns every materialized balance row.
func (p *PostgresStore) AllBalances(ctx context.Context) ([]*Balance, error) {
	rows, err := storage.Q(ctx, p.db).QueryContext(ctx, `
		SELECT entity_type, entity_id, currency, balance_minor, COALESCE(last_transaction_id, ''), updated_at
		FROM ledger_balances
		ORDER BY entity_type, entity_id, currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []*Balance
	for rows.Next() {
		b := &Balance{}
		if err := rows.Scan(&b.EntityType, &b.EntityID, &b.Currency, &b.BalanceMinor, &b.LastTransactionID, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// TransactionTotals recomputes per-key credit and debit sums from the full
// transaction log. One GROUP BY pass; the verifier compares the result to
// the stored balances.
func (p *PostgresStore) TransactionTotals(ctx context.Context) ([]EntityTotals, error) {
	rows, err := storage.Q(ctx, p.db).QueryContext(ctx, `
		SELECT entity_type, entity_id, currency,
			COALESCE(SUM(amount_minor) FILTER (WHERE direction = 'credit'), 0),
			COALESCE(SUM(amount_minor) FILTER (WHERE direction = 'debit'), 0),
			COUNT(*)
		FROM ledger_transactions
		GROUP BY entity_type, entity_id, currency
		ORDER BY entity_type, entity_id, currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []EntityTotals
	for rows.Next() {
		var t EntityTotals
		if err := rows.Scan(&t.EntityType, &t.EntityID, &t.Currency, &t.CreditMinor, &t.DebitMinor, &t.Count); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ReplaceBalance overwrites one balance row wholesale. Rebuild path only;
// live traffic always goes through RecordTransaction's increment.
func (p *PostgresStore) ReplaceBalance(ctx context.Context, bal *Balance) error {
	_, err := storage.Q(ctx, p.db).ExecContext(ctx, `
		INSERT INTO ledger_balances (entity_type, entity_id, currency, balance_minor, last_transaction_id, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
		ON CONFLICT (entity_type, entity_id, currency) DO UPDATE SET
			balance_minor       = $4,
			last_transaction_id = NULLIF($5, ''),
			updated_at          = NOW()
	`, bal.EntityType, bal.EntityID, bal.Currency, bal.BalanceMinor, bal.LastTransactionID)
	return err
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var txns []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var direction string
		var description sql.NullString
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.EntityType, &t.EntityID, &t.AmountMinor,
			&t.Currency, &direction, &description, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Direction = Direction(direction)
		t.Description = description.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", t.ID, err)
			}
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
