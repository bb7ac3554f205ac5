// Package plain registers the "plain" no-op encryption provider.
// It passes all data through unchanged and does not write envelope headers.
package plain

import (
	"context"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "plain",
		Loader: func(_ context.Context, _ *config.Config) (encrypt.Provider, error) {
			return plainProvider{}, nil
		},
	})
}

type plainProvider struct{}

func (plainProvider) ID() string { return "plain" }

func (plainProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (plainProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
