// Package stream registers a notifier that fans notifications out to the
// server-sent event listeners of each user.
package stream

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
)

// bufferSize is the number of undelivered notifications a slow listener may
// hold before newer ones are dropped for it.
const bufferSize = 16

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name: "stream",
		Loader: func(ctx context.Context) (registrynotify.Notifier, error) {
			return NewHub(), nil
		},
	})
}

// Hub tracks listeners per user.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[chan registrynotify.Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{listeners: map[string]map[chan registrynotify.Notification]struct{}{}}
}

func (h *Hub) Notify(_ context.Context, n registrynotify.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.listeners[n.UserID] {
		select {
		case ch <- n:
		default:
			log.Debug("Dropping notification for slow listener", "user", n.UserID, "tag", n.Tag)
		}
	}
}

func (h *Hub) Subscribe(userID string) (<-chan registrynotify.Notification, func()) {
	ch := make(chan registrynotify.Notification, bufferSize)
	h.mu.Lock()
	if h.listeners[userID] == nil {
		h.listeners[userID] = map[chan registrynotify.Notification]struct{}{}
	}
	h.listeners[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners[userID], ch)
			if len(h.listeners[userID]) == 0 {
				delete(h.listeners, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Listeners returns the number of live listeners for userID.
func (h *Hub) Listeners(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[userID])
}

var _ registrynotify.Subscriber = (*Hub)(nil)
