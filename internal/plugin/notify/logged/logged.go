// Package logged registers a notifier that writes notifications to the log.
package logged

import (
	"context"

	"github.com/charmbracelet/log"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
)

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name: "log",
		Loader: func(ctx context.Context) (registrynotify.Notifier, error) {
			return Notifier{}, nil
		},
	})
}

type Notifier struct{}

func (Notifier) Notify(_ context.Context, n registrynotify.Notification) {
	log.Info("Notification", "user", n.UserID, "title", n.Title, "body", n.Body, "tag", n.Tag)
}
