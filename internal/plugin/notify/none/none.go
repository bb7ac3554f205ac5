// Package none registers the notifier used when notifications are disabled.
package none

import (
	"context"

	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
)

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrynotify.Notifier, error) {
			return registrynotify.Discard{}, nil
		},
	})
}
