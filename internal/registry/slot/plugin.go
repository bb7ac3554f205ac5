package slot

import (
	"context"
	"fmt"
	"strings"
)

// Slot is a string-keyed, string-valued durable map. Each call is atomic on
// its own; there are no multi-key transactions.
type Slot interface {
	// Get returns the stored value. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists the stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type slotKey struct{}

// WithContext returns a new context carrying the given Slot.
func WithContext(ctx context.Context, s Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, s)
}

// FromContext retrieves the Slot from the context. Returns nil if none was set.
func FromContext(ctx context.Context) Slot {
	s, _ := ctx.Value(slotKey{}).(Slot)
	return s
}

// Loader creates a slot backend from the config in ctx.
type Loader func(ctx context.Context) (Slot, error)

// Plugin represents a slot backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a slot plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered slot plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named slot plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown slot %q; valid: %v", name, Names())
}

// Key builds the namespaced key <prefix>/<userID>/<storeKey>.
func Key(prefix, userID, storeKey string) string {
	return strings.Trim(prefix, "/") + "/" + userID + "/" + storeKey
}

// SplitKey is the inverse of Key. ok is false when key does not have three segments.
func SplitKey(key string) (prefix, userID, storeKey string, ok bool) {
	last := strings.LastIndexByte(key, '/')
	if last <= 0 {
		return "", "", "", false
	}
	storeKey = key[last+1:]
	rest := key[:last]
	mid := strings.LastIndexByte(rest, '/')
	if mid <= 0 {
		return "", "", "", false
	}
	prefix, userID = rest[:mid], rest[mid+1:]
	if prefix == "" || userID == "" || storeKey == "" {
		return "", "", "", false
	}
	return prefix, userID, storeKey, true
}
