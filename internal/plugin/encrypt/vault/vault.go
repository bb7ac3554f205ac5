// Package vault registers the "vault" encryption provider backed by HashiCorp Vault Transit.
// Data keys are stored wrapped in the slot and unwrapped once at startup;
// Vault is never called per value.
package vault

import (
	"context"
	"encoding/base64"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/dataencryption"
	"github.com/chirino/assistant-state/internal/plugin/encrypt/keystore"
	"github.com/chirino/assistant-state/internal/registry/encrypt"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "vault",
		Loader: func(ctx context.Context, cfg *config.Config) (encrypt.Provider, error) {
			if cfg.EncryptionVaultTransitKey == "" {
				return nil, fmt.Errorf("vault provider: ASSISTANT_STATE_ENCRYPTION_VAULT_TRANSIT_KEY is required")
			}
			s := registryslot.FromContext(ctx)
			if s == nil {
				return nil, fmt.Errorf("vault provider: no slot in context")
			}
			// VAULT_ADDR / VAULT_TOKEN are read by DefaultConfig.
			client, err := vaultapi.NewClient(vaultapi.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("vault provider: creating client: %w", err)
			}
			w := &transit{client: client, key: cfg.EncryptionVaultTransitKey}
			ring, err := keystore.LoadKeyRing(ctx, keystore.New(s, cfg.ResolvedSlotPrefix()), "vault", w)
			if err != nil {
				return nil, err
			}
			return &vaultProvider{ring: ring}, nil
		},
	})
}

type vaultProvider struct {
	ring *dataencryption.KeyRing
}

func (p *vaultProvider) ID() string { return "vault" }

func (p *vaultProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return p.ring.Seal("vault", plaintext)
}

func (p *vaultProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if !dataencryption.HasMagic(ciphertext) {
		return nil, fmt.Errorf("vault: expected envelope")
	}
	return p.ring.Open(ciphertext)
}

// transit wraps data keys with a Vault Transit key.
type transit struct {
	client *vaultapi.Client
	key    string
}

func (t *transit) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/encrypt/%s", t.key)
	secret, err := t.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: transit/encrypt: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("vault: transit/encrypt: empty response")
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault: transit/encrypt: missing ciphertext in response")
	}
	return []byte(ciphertext), nil
}

func (t *transit) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", t.key)
	secret, err := t.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"ciphertext": string(wrapped),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: transit/decrypt: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("vault: transit/decrypt: empty response")
	}
	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault: transit/decrypt: missing plaintext in response")
	}
	plain, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault: transit/decrypt: decoding plaintext: %w", err)
	}
	return plain, nil
}
