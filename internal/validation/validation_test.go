package validation

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"USD", true},
		{"eur", true},
		{"Gbp", true},

		// Invalid cases
		{"US", false},
		{"USDC", false},
		{"US1", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidCurrency(tc.code)
		if result != tc.valid {
			t.Errorf("IsValidCurrency(%q) = %v, want %v", tc.code, result, tc.valid)
		}
	}
}

func TestIsValidEntityID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"cus_123", true},
		{"merchant-42", true},
		{"a", true},
		{"platform.main", true},

		// Invalid cases
		{"", false},
		{"_leading", false},
		{"has space", false},
		{"semi;colon", false},
	}

	for _, tc := range tests {
		result := IsValidEntityID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidEntityID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestEntityParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EntityParamMiddleware())
	router.GET("/entities/:entityType/:entityId", func(c *gin.Context) {
		c.String(200, "ok")
	})

	tests := []struct {
		path   string
		status int
	}{
		{"/entities/customer/cus_1", 200},
		{"/entities/customer/bad;id", 400},
		{"/entities/;;/cus_1", 400},
	}

	for _, tc := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", tc.path, nil)
		router.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("GET %s status = %d, want %d", tc.path, w.Code, tc.status)
		}
	}
}
