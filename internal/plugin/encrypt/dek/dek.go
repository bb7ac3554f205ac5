// Package dek registers the "dek" AES-GCM encryption provider using keys from
// configuration.
package dek

import (
	"context"
	"fmt"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/dataencryption"
	"github.com/chirino/assistant-state/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "dek",
		Loader: func(_ context.Context, cfg *config.Config) (encrypt.Provider, error) {
			keys, err := cfg.EncryptionKeys()
			if err != nil {
				return nil, fmt.Errorf("dek provider: %w", err)
			}
			ring, err := dataencryption.NewKeyRing(keys)
			if err != nil {
				return nil, fmt.Errorf("dek provider: %w", err)
			}
			return &dekProvider{ring: ring}, nil
		},
	})
}

type dekProvider struct {
	ring *dataencryption.KeyRing
}

func (p *dekProvider) ID() string { return "dek" }

func (p *dekProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return p.ring.Seal("dek", plaintext)
}

func (p *dekProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if !dataencryption.HasMagic(ciphertext) {
		return nil, fmt.Errorf("dek: expected envelope")
	}
	return p.ring.Open(ciphertext)
}
