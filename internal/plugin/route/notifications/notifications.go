// Package notifications streams a user's notifications as server-sent events.
package notifications

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/gin-gonic/gin"
)

// DefaultHeartbeat keeps idle connections open through proxies.
const DefaultHeartbeat = 25 * time.Second

// MountRoutes mounts GET /v1/notifications/stream. A notifier that cannot be
// subscribed to answers 501.
func MountRoutes(r *gin.Engine, n registrynotify.Notifier, auth gin.HandlerFunc, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	sub, _ := n.(registrynotify.Subscriber)
	r.GET("/v1/notifications/stream", auth, func(c *gin.Context) {
		if sub == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "notification streaming is not enabled"})
			return
		}
		stream(c, sub, heartbeat)
	})
}

func stream(c *gin.Context, sub registrynotify.Subscriber, heartbeat time.Duration) {
	userID := security.GetUserID(c)
	ch, cancel := sub.Subscribe(userID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	fmt.Fprint(c.Writer, ": connected\n\n")
	c.Writer.Flush()
	log.Debug("Notification stream opened", "user", userID)

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			log.Debug("Notification stream closed", "user", userID)
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				log.Error("Failed to encode notification", "user", userID, "err", err)
				continue
			}
			fmt.Fprintf(c.Writer, "event: notification\ndata: %s\n\n", data)
			c.Writer.Flush()
		}
	}
}
