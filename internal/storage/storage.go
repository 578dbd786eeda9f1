// Package storage carries a database transaction through context so that
// independent stores (ledger, payments, idempotency) can join one atomic unit.
//
// The pipeline calls the external provider with no transaction open, then wraps
// only the local writes that follow in WithinTx. Each Postgres store resolves
// its querier via Q: inside WithinTx it gets the shared *sql.Tx, elsewhere the
// bare *sql.DB.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type contextKey struct{}

var txKey contextKey

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Q returns the transaction from ctx if one is open, otherwise db.
func Q(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return db
}

// InTx reports whether ctx already carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey).(*sql.Tx)
	return ok
}

// WithinTx runs fn inside a single database transaction. The transaction is
// injected into the context passed to fn; any store resolving its querier via
// Q participates. An error from fn rolls the whole unit back.
//
// Nested calls join the outer transaction rather than opening a second one.
func WithinTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
