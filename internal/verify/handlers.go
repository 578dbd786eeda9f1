package verify

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes verification over HTTP for operators.
type Handler struct {
	verifier *Verifier
}

// NewHandler creates a new verify handler.
func NewHandler(verifier *Verifier) *Handler {
	return &Handler{verifier: verifier}
}

// RegisterRoutes sets up admin verification routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/verify", h.RunVerification)
	r.POST("/verify/rebuild", h.Rebuild)
}

// RunVerification handles POST /v1/admin/verify
func (h *Handler) RunVerification(c *gin.Context) {
	report, err := h.verifier.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	status := http.StatusOK
	if !report.Pass() {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"report": report, "pass": report.Pass()})
}

// Rebuild handles POST /v1/admin/verify/rebuild?force=true
func (h *Handler) Rebuild(c *gin.Context) {
	force := c.Query("force") == "true"

	result, err := h.verifier.Rebuild(c.Request.Context(), force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":    result.Report,
		"rewritten": result.Rewritten,
		"dryRun":    result.DryRun,
	})
}
