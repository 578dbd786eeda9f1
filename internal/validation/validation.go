// Package validation provides input validation middleware for the paycore API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	// currencyRegex validates ISO 4217 alphabetic currency codes
	currencyRegex = regexp.MustCompile(`^[A-Za-z]{3}$`)
	// entityIDRegex validates entity identifiers in URL params
	entityIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCurrency checks if a string is a three-letter currency code
func IsValidCurrency(code string) bool {
	return currencyRegex.MatchString(code)
}

// IsValidEntityID checks if a string is a well-formed entity identifier
func IsValidEntityID(id string) bool {
	return entityIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// EntityParamMiddleware validates :entityType and :entityId URL parameters on
// routes that use them. Apply to route groups to reject malformed identifiers
// early, before they reach a query.
func EntityParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, param := range []string{"entityType", "entityId"} {
			if v := c.Param(param); v != "" && !IsValidEntityID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_" + strings.ToLower(param),
					"message": param + " contains invalid characters or is too long",
				})
				return
			}
		}
		c.Next()
	}
}
