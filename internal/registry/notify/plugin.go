package notify

import (
	"context"
	"fmt"
	"time"
)

// Notification is a transient message for one user, shown by the browser as a
// system notification and optionally a vibration pattern.
type Notification struct {
	UserID  string    `json:"-"`
	Title   string    `json:"title"`
	Body    string    `json:"body,omitempty"`
	Tag     string    `json:"tag,omitempty"`
	Vibrate []int     `json:"vibrate,omitempty"`
	SentAt  time.Time `json:"sentAt"`
}

// Notifier delivers notifications. Delivery is fire and forget: a user with no
// listener, or a deployment with notifications disabled, silently drops them.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Subscriber is implemented by notifiers that fan out to live listeners.
type Subscriber interface {
	// Subscribe returns a channel receiving the user's notifications until
	// cancel is called.
	Subscribe(userID string) (ch <-chan Notification, cancel func())
}

// Loader creates a Notifier from config.
type Loader func(ctx context.Context) (Notifier, error)

// Plugin represents a notifier plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a notifier plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered notifier plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named notifier plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown notifier %q; valid: %v", name, Names())
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
