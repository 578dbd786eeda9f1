package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(t *testing.T) *Record {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		Key:        "req_1",
		Command:    "authorize",
		PaymentID:  "pay_1",
		StatusCode: 200,
		Response:   json.RawMessage(`{"status":"authorized"}`),
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
	}
}

func TestRedisCache_SetAndGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client)
	ctx := context.Background()

	rec := testRecord(t)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectSet("paycore:idem:authorize:req_1", raw, time.Hour).SetVal("OK")
	cache.Set(ctx, rec, time.Hour)

	mock.ExpectGet("paycore:idem:authorize:req_1").SetVal(string(raw))
	got, ok := cache.Get(ctx, "req_1", "authorize")
	require.True(t, ok)
	assert.Equal(t, rec.PaymentID, got.PaymentID)
	assert.Equal(t, rec.StatusCode, got.StatusCode)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_MissReturnsFalse(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client)

	mock.ExpectGet("paycore:idem:capture:req_missing").RedisNil()
	_, ok := cache.Get(context.Background(), "req_missing", "capture")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client)

	mock.ExpectGet("paycore:idem:refund:req_1").SetVal("not json")
	_, ok := cache.Get(context.Background(), "req_1", "refund")
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client)

	mock.ExpectDel("paycore:idem:authorize:req_1").SetVal(1)
	cache.Delete(context.Background(), "req_1", "authorize")
	assert.NoError(t, mock.ExpectationsWereMet())
}
