// Package keystore keeps the wrapped data keys of the vault and kms providers in
// the durable slot itself, next to the values they protect.
//
// Record layout: one JSON document per provider. wrappedDeks[0] is the primary
// key; subsequent entries are legacy keys kept for decryption-only rotation.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/dataencryption"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

// Record is the single data key record stored per encryption provider.
type Record struct {
	WrappedDEKs [][]byte `json:"wrappedDeks"`
	Revision    int64    `json:"revision"`
}

// Wrapper wraps and unwraps data keys with a key encryption service.
type Wrapper interface {
	Wrap(ctx context.Context, plain []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}

// Store reads and writes provider records in a slot.
type Store struct {
	slot   registryslot.Slot
	prefix string
}

// New returns a Store writing under "<prefix>.keys/". The key space is disjoint
// from user data keys ("<prefix>/...").
func New(s registryslot.Slot, prefix string) *Store {
	return &Store{slot: s, prefix: prefix}
}

func (s *Store) key(provider string) string {
	return s.prefix + ".keys/" + provider
}

// Load returns the record for provider, or nil if none exists.
func (s *Store) Load(ctx context.Context, provider string) (*Record, error) {
	raw, ok, err := s.slot.Get(ctx, s.key(provider))
	if err != nil {
		return nil, fmt.Errorf("keystore: load %s: %w", provider, err)
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("keystore: decode %s: %w", provider, err)
	}
	return &rec, nil
}

// Bootstrap writes the initial record when none exists. Two processes
// bootstrapping at once race and the last writer wins, so the first start of
// a multi-instance deployment should be done by one instance.
func (s *Store) Bootstrap(ctx context.Context, provider string, wrappedDEK []byte) error {
	rec := Record{WrappedDEKs: [][]byte{wrappedDEK}, Revision: 1}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.slot.Set(ctx, s.key(provider), string(data)); err != nil {
		return fmt.Errorf("keystore: bootstrap %s: %w", provider, err)
	}
	return nil
}

// LoadKeyRing unwraps the provider's data keys into a KeyRing, generating and
// storing a fresh 256-bit key on first use.
func LoadKeyRing(ctx context.Context, store *Store, provider string, w Wrapper) (*dataencryption.KeyRing, error) {
	rec, err := store.Load(ctx, provider)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		plain := make([]byte, 32)
		if _, err := rand.Read(plain); err != nil {
			return nil, fmt.Errorf("%s: generating DEK: %w", provider, err)
		}
		wrapped, err := w.Wrap(ctx, plain)
		if err != nil {
			return nil, fmt.Errorf("%s: wrapping new DEK: %w", provider, err)
		}
		if err := store.Bootstrap(ctx, provider, wrapped); err != nil {
			return nil, err
		}
		log.Info("Generated data encryption key", "provider", provider)
		return dataencryption.NewKeyRing([][]byte{plain})
	}
	if len(rec.WrappedDEKs) == 0 {
		return nil, errors.New(provider + ": key record has no keys")
	}
	keys := make([][]byte, 0, len(rec.WrappedDEKs))
	for _, wrapped := range rec.WrappedDEKs {
		plain, err := w.Unwrap(ctx, wrapped)
		if err != nil {
			return nil, fmt.Errorf("%s: unwrap DEK: %w", provider, err)
		}
		keys = append(keys, plain)
	}
	return dataencryption.NewKeyRing(keys)
}
