package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestResolveAPIKeyMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"secret": "web"}
	r := NewTokenResolver(&cfg)

	id, err := r.Resolve(context.Background(), "alice", "secret", "")
	require.NoError(t, err)
	require.Equal(t, "alice", id.UserID)
	require.Equal(t, "web", id.ClientID)

	id, err = r.Resolve(context.Background(), "bob", "wrong", "agent")
	require.NoError(t, err)
	require.Equal(t, "", id.ClientID, "X-Client-ID is only honored in testing mode")
}

func TestResolveRejectsUnsafeUserID(t *testing.T) {
	cfg := config.DefaultConfig()
	r := NewTokenResolver(&cfg)

	_, err := r.Resolve(context.Background(), "../etc", "", "")
	require.Error(t, err)
	_, err = r.Resolve(context.Background(), "  ", "", "")
	require.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting

	router := gin.New()
	router.GET("/who", AuthMiddleware(NewTokenResolver(&cfg)), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": GetUserID(c), "client": GetClientID(c)})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/who", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer alice")
	req.Header.Set("X-Client-ID", "bdd")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"alice","client":"bdd"}`, rec.Body.String())
}

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD", "pod-1")
	labels, err := ParseMetricsLabels("service=assistant,pod=${POD}")
	require.NoError(t, err)
	require.Equal(t, "assistant", labels["service"])
	require.Equal(t, "pod-1", labels["pod"])

	_, err = ParseMetricsLabels("bad-key=x")
	require.Error(t, err)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)
}

func TestBearerToken(t *testing.T) {
	_, err := bearerToken("")
	require.ErrorIs(t, err, errMissingHeader)
	_, err = bearerToken("Token abc")
	require.ErrorIs(t, err, errNotBearer)
	token, err := bearerToken("Bearer abc")
	require.NoError(t, err)
	require.Equal(t, "abc", token)
}

func TestValidUserID(t *testing.T) {
	require.True(t, ValidUserID("alice"))
	require.False(t, ValidUserID(""))
	require.False(t, ValidUserID("team/alice"))
}
