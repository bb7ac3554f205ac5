// Package awskms registers the "kms" encryption provider backed by AWS KMS.
// Data keys are stored wrapped in the slot and unwrapped once at startup;
// KMS is never called per value.
package awskms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/dataencryption"
	"github.com/chirino/assistant-state/internal/plugin/encrypt/keystore"
	"github.com/chirino/assistant-state/internal/registry/encrypt"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "kms",
		Loader: func(ctx context.Context, cfg *config.Config) (encrypt.Provider, error) {
			if cfg.EncryptionKMSKeyID == "" {
				return nil, fmt.Errorf("kms provider: ASSISTANT_STATE_ENCRYPTION_KMS_KEY_ID is required")
			}
			s := registryslot.FromContext(ctx)
			if s == nil {
				return nil, fmt.Errorf("kms provider: no slot in context")
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("kms provider: loading AWS config: %w", err)
			}
			w := &kmsWrapper{client: kms.NewFromConfig(awsCfg), keyID: cfg.EncryptionKMSKeyID}
			ring, err := keystore.LoadKeyRing(ctx, keystore.New(s, cfg.ResolvedSlotPrefix()), "kms", w)
			if err != nil {
				return nil, err
			}
			return &kmsProvider{ring: ring}, nil
		},
	})
}

type kmsProvider struct {
	ring *dataencryption.KeyRing
}

func (p *kmsProvider) ID() string { return "kms" }

func (p *kmsProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return p.ring.Seal("kms", plaintext)
}

func (p *kmsProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if !dataencryption.HasMagic(ciphertext) {
		return nil, fmt.Errorf("kms: expected envelope")
	}
	return p.ring.Open(ciphertext)
}

type kmsWrapper struct {
	client *kms.Client
	keyID  string
}

// Wrap wraps a data key via AWS KMS Encrypt.
func (w *kmsWrapper) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := w.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(w.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: Encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Unwrap unwraps a KMS ciphertext blob back to the data key.
func (w *kmsWrapper) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	out, err := w.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(w.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("kms: Decrypt: %w", err)
	}
	return out.Plaintext, nil
}
