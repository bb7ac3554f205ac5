package notifications

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	notifystream "github.com/chirino/assistant-state/internal/plugin/notify/stream"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func asAlice(c *gin.Context) {
	c.Set(security.ContextKeyUserID, "alice")
	c.Next()
}

func TestStreamDeliversNotifications(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := notifystream.NewHub()
	r := gin.New()
	MountRoutes(r, hub, asAlice, time.Hour)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/notifications/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", first)
	require.Eventually(t, func() bool { return hub.Listeners("alice") == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Notify(ctx, registrynotify.Notification{UserID: "bob", Title: "not for alice"})
	hub.Notify(ctx, registrynotify.Notification{UserID: "alice", Title: "Reminder", Body: "stretch", Tag: "reminder-1"})

	var event, data string
	for data == "" {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	require.Equal(t, "notification", event)
	require.Contains(t, data, `"body":"stretch"`)
	require.NotContains(t, data, "not for alice")

	cancel()
	require.Eventually(t, func() bool { return hub.Listeners("alice") == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStreamDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	MountRoutes(r, registrynotify.Discard{}, asAlice, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/notifications/stream", nil))
	require.Equal(t, http.StatusNotImplemented, w.Code)
}
