package encrypt

import (
	"context"
	"fmt"

	"github.com/chirino/assistant-state/internal/config"
)

// Provider is the SPI for pluggable encryption providers.
// Real providers write an ASEV envelope on encrypt and expect one on decrypt.
type Provider interface {
	// ID returns the provider identifier written into the envelope header (e.g. "dek", "vault").
	ID() string

	// Encrypt returns envelope-wrapped ciphertext (or plaintext for the plain provider).
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt accepts envelope-wrapped ciphertext produced by Encrypt.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Plugin bundles a provider name with its loader function.
// Loaders may read the raw slot backend from ctx (registry/slot.FromContext)
// to persist provider state such as wrapped data keys.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config) (Provider, error)
}

var plugins []Plugin

// Register adds an encryption provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the Plugin for the given name.
func Select(name string) (Plugin, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("unknown encryption provider %q; registered: %v", name, Names())
}
