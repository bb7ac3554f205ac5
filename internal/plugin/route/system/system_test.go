package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	registryroute "github.com/chirino/assistant-state/internal/registry/route"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, registryroute.Mount(r, registryroute.RouteTypeManagement))
	require.Equal(t, []string{"system"}, registryroute.Names(registryroute.RouteTypeManagement))
	t.Cleanup(func() {
		MarkNotReady()
		SetProbe(nil)
	})
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAlwaysOK(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusOK, get(r, "/health").Code)
}

func TestReadiness(t *testing.T) {
	r := newRouter(t)

	w := get(r, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"status":"starting"}`, w.Body.String())

	MarkReady()
	require.Equal(t, http.StatusOK, get(r, "/ready").Code)

	SetProbe(func(context.Context) error { return errors.New("slot unreachable") })
	w = get(r, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "slot unreachable")

	SetProbe(func(context.Context) error { return nil })
	require.Equal(t, http.StatusOK, get(r, "/ready").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t)
	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
