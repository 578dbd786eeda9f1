//go:build integration

package payment

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwire/paycore/internal/events"
	"github.com/finwire/paycore/internal/idempotency"
	"github.com/finwire/paycore/internal/ledger"
	"github.com/finwire/paycore/internal/provider"
	"github.com/finwire/paycore/internal/testutil"
)

func pgService(t *testing.T, db *sql.DB) (*Service, *provider.Mock, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(ledger.NewPostgresStore(db))
	idem := idempotency.NewManager(idempotency.NewPostgresStore(db), idempotency.NewMemoryCache(), time.Hour)
	prov := provider.NewMock()
	svc := NewService(NewPostgresStore(db), led, idem, prov, events.NewEmitter(), db, "platform_main")
	return svc, prov, led
}

func TestPostgresLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc, _, led := pgService(t, db)
	ctx := context.Background()

	res, err := svc.Initialize(ctx, "", InitializeRequest{
		EntityType: "customer", EntityID: "cus_pg", AmountMinor: 10000, Currency: "USD",
	})
	require.NoError(t, err)
	id := res.Payment.ID

	_, err = svc.Authorize(ctx, "", id)
	require.NoError(t, err)
	_, err = svc.Capture(ctx, "", id)
	require.NoError(t, err)
	res, err = svc.Refund(ctx, "", id, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, res.Payment.Status)

	// One row per money-moving command, payer nets zero.
	txns, err := led.ListByPayment(ctx, id)
	require.NoError(t, err)
	assert.Len(t, txns, 3)

	bal, err := led.GetBalance(ctx, "customer", "cus_pg", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	bal, err = led.GetBalance(ctx, PlatformEntityType, "platform_main", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal)
}

func TestPostgresReplaySurvivesRestart(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc1, _, _ := pgService(t, db)
	ctx := context.Background()

	res, err := svc1.Initialize(ctx, "key_restart", InitializeRequest{
		EntityType: "customer", EntityID: "cus_pg2", AmountMinor: 2500, Currency: "USD",
	})
	require.NoError(t, err)

	// A fresh service (new in-process cache, same database) still replays.
	svc2, prov2, _ := pgService(t, db)
	replay, err := svc2.Initialize(ctx, "key_restart", InitializeRequest{
		EntityType: "customer", EntityID: "cus_pg2", AmountMinor: 2500, Currency: "USD",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Payment.ID, replay.Payment.ID)
	assert.Equal(t, 0, prov2.Calls("initialize"), "replay must come from the durable store")
}

func TestPostgresConcurrentSameKey(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc, _, led := pgService(t, db)
	ctx := context.Background()

	res, err := svc.Initialize(ctx, "", InitializeRequest{
		EntityType: "customer", EntityID: "cus_race", AmountMinor: 5000, Currency: "USD",
	})
	require.NoError(t, err)
	id := res.Payment.ID

	// Two racing authorizes with the same key: exactly one commits. The
	// loser's unit rolls back on the version check and reports a retryable
	// conflict; a retry with the same key replays the winner.
	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Authorize(ctx, "key_race", id)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < 2; i++ {
		if errs[i] == nil {
			winners++
			assert.Equal(t, StatusAuthorized, results[i].Payment.Status)
		} else {
			assert.ErrorIs(t, errs[i], ErrVersionConflict)
		}
	}
	require.GreaterOrEqual(t, winners, 1)

	// The loser's retry replays the winner without another provider call.
	replay, err := svc.Authorize(ctx, "key_race", id)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	// Exactly one authorization hold was recorded.
	txns, err := led.ListByPayment(ctx, id)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	bal, err := led.GetBalance(ctx, "customer", "cus_race", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(-5000), bal)
}
