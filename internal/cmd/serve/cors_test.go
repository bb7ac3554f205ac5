package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestCORSPolicy_Origins(t *testing.T) {
	require.True(t, newCORSPolicy("").allows("https://anywhere.example"))
	require.True(t, newCORSPolicy(" * ").allows("https://anywhere.example"))

	p := newCORSPolicy("https://a.example, https://b.example")
	require.True(t, p.allows("https://b.example"))
	require.False(t, p.allows("https://c.example"))
	require.False(t, p.allows(""))
}

func TestCorsMiddleware_AllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(newCORSPolicy("https://example.com").middleware())
	router.GET("/v1/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsMiddleware_PreflightAndETag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(newCORSPolicy("").middleware())
	router.PUT("/v1/offline/cache/:key", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/offline/cache/weather", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "If-None-Match")
	require.Equal(t, "ETag", rec.Header().Get("Access-Control-Expose-Headers"))
	require.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}
