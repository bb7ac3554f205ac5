// Package encrypted wraps a slot so values are encrypted at rest.
package encrypted

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/chirino/assistant-state/internal/dataencryption"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

// Wrap returns a Slot that stores base64(envelope) values. Values that do not
// decode to an envelope are returned unchanged so plaintext written before
// encryption was enabled stays readable.
func Wrap(inner registryslot.Slot, svc *dataencryption.Service) registryslot.Slot {
	if svc == nil {
		return inner
	}
	return &encryptedSlot{inner: inner, svc: svc}
}

type encryptedSlot struct {
	inner registryslot.Slot
	svc   *dataencryption.Service
}

func (s *encryptedSlot) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return raw, ok, err
	}
	sealed, decErr := base64.StdEncoding.DecodeString(raw)
	if decErr != nil || !dataencryption.HasMagic(sealed) {
		return raw, true, nil
	}
	plain, err := s.svc.Decrypt(ctx, sealed)
	if err != nil {
		return "", false, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return string(plain), true, nil
}

func (s *encryptedSlot) Set(ctx context.Context, key string, value string) error {
	if !s.svc.IsPrimaryReal() {
		return s.inner.Set(ctx, key, value)
	}
	sealed, err := s.svc.Encrypt(ctx, []byte(value))
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *encryptedSlot) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *encryptedSlot) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}

func (s *encryptedSlot) Close() error {
	return s.inner.Close()
}
