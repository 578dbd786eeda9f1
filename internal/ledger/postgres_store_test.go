package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwire/paycore/internal/storage"
)

func TestPostgresStore_RecordTransaction_CommitsBothWrites(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	txn := &Transaction{
		ID:          "txn_1",
		PaymentID:   "pay_1",
		EntityType:  "customer",
		EntityID:    "cus_1",
		AmountMinor: 1000,
		Currency:    "USD",
		Direction:   DirectionDebit,
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_balances").
		WithArgs("customer", "cus_1", "USD", int64(-1000), "txn_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordTransaction(context.Background(), txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordTransaction_RollsBackOnBalanceFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	txn := &Transaction{
		ID:          "txn_1",
		EntityType:  "customer",
		EntityID:    "cus_1",
		AmountMinor: 1000,
		Currency:    "USD",
		Direction:   DirectionCredit,
		CreatedAt:   time.Now().UTC(),
	}

	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_balances").
		WillReturnError(boom)
	mock.ExpectRollback()

	err = store.RecordTransaction(context.Background(), txn)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordTransaction_JoinsOuterTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	txn := &Transaction{
		ID:          "txn_1",
		EntityType:  "customer",
		EntityID:    "cus_1",
		AmountMinor: 250,
		Currency:    "USD",
		Direction:   DirectionCredit,
		CreatedAt:   time.Now().UTC(),
	}

	// One begin and one commit around the whole unit, not per store call.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = storage.WithinTx(context.Background(), db, func(ctx context.Context) error {
		if err := store.RecordTransaction(ctx, txn); err != nil {
			return err
		}
		_, err := storage.Q(ctx, db).ExecContext(ctx, "UPDATE payments SET status = $1 WHERE id = $2", "authorized", "pay_1")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBalance_NoRowsIsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery("SELECT balance_minor FROM ledger_balances").
		WithArgs("customer", "cus_missing", "USD").
		WillReturnRows(sqlmock.NewRows([]string{"balance_minor"}))

	bal, err := store.GetBalance(context.Background(), "customer", "cus_missing", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransactionTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rows := sqlmock.NewRows([]string{"entity_type", "entity_id", "currency", "credit", "debit", "count"}).
		AddRow("customer", "cus_1", "USD", int64(10000), int64(10000), int64(4)).
		AddRow("platform", "platform", "USD", int64(10000), int64(0), int64(1))
	mock.ExpectQuery("SELECT entity_type, entity_id, currency").
		WillReturnRows(rows)

	totals, err := store.TransactionTotals(context.Background())
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, int64(0), totals[0].CalculatedBalance())
	assert.Equal(t, int64(10000), totals[1].CalculatedBalance())
	assert.NoError(t, mock.ExpectationsWereMet())
}
