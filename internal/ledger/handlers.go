package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/finwire/paycore/internal/pagination"
)

const maxListLimit = 200

// Handler provides read-only HTTP endpoints over the ledger.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/entities/:entityType/:entityId/balance", h.GetBalance)
	r.GET("/entities/:entityType/:entityId/transactions", h.ListTransactions)
	r.GET("/payments/:id/transactions", h.ListByPayment)
}

// GetBalance handles GET /v1/entities/:entityType/:entityId/balance?currency=USD
func (h *Handler) GetBalance(c *gin.Context) {
	currency := c.Query("currency")
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "currency query parameter is required",
		})
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("entityType"), c.Param("entityId"), currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entityType":   c.Param("entityType"),
		"entityId":     c.Param("entityId"),
		"currency":     currency,
		"balanceMinor": balance,
	})
}

// ListTransactions handles GET /v1/entities/:entityType/:entityId/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	opts := ListOptions{
		Currency: c.Query("currency"),
		Cursor:   c.Query("cursor"),
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxListLimit {
			opts.Limit = parsed
		}
	}

	txns, next, err := h.ledger.ListTransactions(c.Request.Context(), c.Param("entityType"), c.Param("entityId"), opts)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "cursor is not valid, restart from the first page",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	resp := gin.H{"transactions": txns, "count": len(txns)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// ListByPayment handles GET /v1/payments/:id/transactions
func (h *Handler) ListByPayment(c *gin.Context) {
	txns, err := h.ledger.ListByPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}
