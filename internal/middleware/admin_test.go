package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAdminRouter(t *testing.T, key string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	am, err := NewAdminMiddleware(key, bcrypt.MinCost)
	require.NoError(t, err)

	router := gin.New()
	router.Use(am.RequireAdminAuth())
	router.DELETE("/admin/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "admin access granted"})
	})
	return router
}

func TestNewAdminMiddleware_HashesKey(t *testing.T) {
	am, err := NewAdminMiddleware("test-admin-key", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotContains(t, string(am.keyHash), "test-admin-key")
	assert.True(t, am.ValidateAdminKey("test-admin-key"))

	_, err = NewAdminMiddleware("test-admin-key", bcrypt.MaxCost+1)
	assert.Error(t, err)
}

func TestAdminMiddleware_RequireAdminAuth(t *testing.T) {
	router := newAdminRouter(t, "test-admin-key")

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"bearer key", "Authorization", "Bearer test-admin-key", http.StatusOK},
		{"lowercase bearer", "Authorization", "bearer test-admin-key", http.StatusOK},
		{"x-api-key", "X-API-Key", "test-admin-key", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer invalid-key", http.StatusUnauthorized},
		{"no scheme", "Authorization", "test-admin-key", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic test-admin-key", http.StatusUnauthorized},
		{"bearer without key", "Authorization", "Bearer", http.StatusUnauthorized},
		{"too many parts", "Authorization", "Bearer key1 key2", http.StatusUnauthorized},
		{"wrong x-api-key", "X-API-Key", "invalid-key", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/admin/test", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "Valid admin API key required")
			}
		})
	}
}

func TestAdminMiddleware_QueryParameterIgnored(t *testing.T) {
	router := newAdminRouter(t, "test-admin-key")
	req := httptest.NewRequest(http.MethodDelete, "/admin/test?api_key=test-admin-key", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminMiddleware_UnconfiguredKeyRejectsAll(t *testing.T) {
	router := newAdminRouter(t, "")
	req := httptest.NewRequest(http.MethodDelete, "/admin/test", nil)
	req.Header.Set("X-API-Key", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminMiddleware_ValidateAdminKey_LongKeys(t *testing.T) {
	// bcrypt alone would ignore everything past byte 72.
	base := strings.Repeat("k", 80)
	am, err := NewAdminMiddleware(base+"a", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, am.ValidateAdminKey(base+"a"))
	assert.False(t, am.ValidateAdminKey(base+"b"))
	assert.False(t, am.ValidateAdminKey(""))
}
