//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("paycore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Ping())

	_, filename, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(filename), "../../migrations")
	require.NoError(t, goose.Up(db, migrationsDir))

	return db
}

func TestPostgresStore_Integration_BalanceSurvivesConcurrentWriters(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	const n = 20
	const amount = int64(13)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.RecordTransaction(ctx, &Transaction{
				ID:          idgenFor(i),
				EntityType:  "customer",
				EntityID:    "cus_int",
				AmountMinor: amount,
				Currency:    "USD",
				Direction:   DirectionCredit,
				CreatedAt:   time.Now().UTC(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	bal, err := store.GetBalance(ctx, "customer", "cus_int", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(n)*amount, bal)

	totals, err := store.TransactionTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, bal, totals[0].CalculatedBalance())
	assert.Equal(t, int64(n), totals[0].Count)
}

func TestPostgresStore_Integration_CursorPagination(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		require.NoError(t, store.RecordTransaction(ctx, &Transaction{
			ID:          idgenFor(i),
			EntityType:  "customer",
			EntityID:    "cus_page",
			AmountMinor: int64(100 + i),
			Currency:    "USD",
			Direction:   DirectionCredit,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	var seen []int64
	cursor := ""
	for {
		page, next, err := store.ListTransactions(ctx, "customer", "cus_page", ListOptions{Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		for _, txn := range page {
			seen = append(seen, txn.AmountMinor)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	require.Len(t, seen, 7)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i-1], seen[i], "pages must be newest first with no overlap")
	}
}

func idgenFor(i int) string {
	return "txn_int_" + string(rune('a'+i))
}
