package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	led := New(NewMemoryStore())
	r := gin.New()
	NewHandler(led).RegisterRoutes(r.Group("/v1"))
	return r, led
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_GetBalance(t *testing.T) {
	r, led := setupRouter(t)

	_, err := led.Record(context.Background(), RecordRequest{
		EntityType: "customer", EntityID: "cus_1", Currency: "USD",
		AmountMinor: 2500, Direction: DirectionCredit,
	})
	require.NoError(t, err)

	w := get(r, "/v1/entities/customer/cus_1/balance?currency=USD")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		BalanceMinor int64 `json:"balanceMinor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2500), resp.BalanceMinor)
}

func TestHandler_GetBalance_RequiresCurrency(t *testing.T) {
	r, _ := setupRouter(t)
	w := get(r, "/v1/entities/customer/cus_1/balance")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetBalance_UnknownIsZero(t *testing.T) {
	r, _ := setupRouter(t)
	w := get(r, "/v1/entities/customer/cus_nobody/balance?currency=USD")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balanceMinor":0`)
}

func TestHandler_ListTransactions_InvalidCursorIs400(t *testing.T) {
	r, _ := setupRouter(t)
	w := get(r, "/v1/entities/customer/cus_1/transactions?cursor=garbage")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")
}

func TestHandler_ListTransactions_Paged(t *testing.T) {
	r, led := setupRouter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := led.Record(ctx, RecordRequest{
			EntityType: "customer", EntityID: "cus_1", Currency: "USD",
			AmountMinor: int64(100 + i), Direction: DirectionCredit,
		})
		require.NoError(t, err)
	}

	w := get(r, "/v1/entities/customer/cus_1/transactions?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Transactions []*Transaction `json:"transactions"`
		NextCursor   string         `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Transactions, 2)
	assert.NotEmpty(t, resp.NextCursor)

	w = get(r, "/v1/entities/customer/cus_1/transactions?limit=2&cursor="+resp.NextCursor)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Transactions, 1)
}

func TestHandler_ListByPayment(t *testing.T) {
	r, led := setupRouter(t)

	_, err := led.Record(context.Background(), RecordRequest{
		EntityType: "customer", EntityID: "cus_1", Currency: "USD",
		AmountMinor: 100, Direction: DirectionDebit, PaymentID: "pay_x",
	})
	require.NoError(t, err)

	w := get(r, "/v1/payments/pay_x/transactions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}
