package payment

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finwire/paycore/internal/provider"
)

// IdempotencyKeyHeader carries the client's idempotency key. Commands
// without it execute exactly once from the client's point of view only if
// the client never retries.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler provides HTTP endpoints for the payment pipeline.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment pipeline routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.Initialize)
	r.GET("/payments", h.List)
	r.GET("/payments/:id", h.Get)
	r.POST("/payments/:id/authorize", h.Authorize)
	r.POST("/payments/:id/capture", h.Capture)
	r.POST("/payments/:id/refund", h.Refund)
}

// Initialize handles POST /v1/payments
func (h *Handler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "request body must be valid JSON",
		})
		return
	}

	result, err := h.service.Initialize(c.Request.Context(), idempotencyKey(c), req)
	h.respond(c, result, err)
}

// Get handles GET /v1/payments/:id
func (h *Handler) Get(c *gin.Context) {
	pay, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no payment with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment": pay,
		"metadata": gin.H{
			"version":    pay.Version,
			"ageSeconds": int64(time.Since(pay.CreatedAt).Seconds()),
		},
	})
}

// List handles GET /v1/payments?entityType=...&entityId=...
func (h *Handler) List(c *gin.Context) {
	entityType := c.Query("entityType")
	entityID := c.Query("entityId")
	if entityType == "" || entityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "entityType and entityId query parameters are required",
		})
		return
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	payments, err := h.service.List(c.Request.Context(), entityType, entityID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

// Authorize handles POST /v1/payments/:id/authorize
func (h *Handler) Authorize(c *gin.Context) {
	result, err := h.service.Authorize(c.Request.Context(), idempotencyKey(c), c.Param("id"))
	h.respond(c, result, err)
}

// Capture handles POST /v1/payments/:id/capture
func (h *Handler) Capture(c *gin.Context) {
	result, err := h.service.Capture(c.Request.Context(), idempotencyKey(c), c.Param("id"))
	h.respond(c, result, err)
}

// Refund handles POST /v1/payments/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var body struct {
		AmountMinor int64 `json:"amountMinor"`
	}
	_ = c.ShouldBindJSON(&body) // absent body means full refund

	result, err := h.service.Refund(c.Request.Context(), idempotencyKey(c), c.Param("id"), body.AmountMinor)
	h.respond(c, result, err)
}

func idempotencyKey(c *gin.Context) string {
	return c.GetHeader(IdempotencyKeyHeader)
}

func (h *Handler) respond(c *gin.Context, result *Result, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.Replayed {
		c.Header("Idempotent-Replay", "true")
	}

	if result.Failure != nil {
		c.JSON(result.StatusCode, gin.H{
			"error":   "payment_failed",
			"code":    result.Failure.Code,
			"message": result.Failure.Message,
			"payment": result.Payment,
		})
		return
	}
	c.JSON(result.StatusCode, gin.H{"payment": result.Payment})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var ve *ValidationError
	var te *InvalidTransitionError
	var ue *UnsupportedError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": ve.Error()})
	case errors.As(err, &ue):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported_currency_or_method", "message": ue.Error()})
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": te.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no payment with this ID"})
	case errors.Is(err, ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "payment was modified concurrently, retry"})
	case provider.IsIndeterminate(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_unavailable",
			"message": "provider outcome unknown, retry with the same Idempotency-Key",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
