package dataencryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeyRing holds AES data keys. The first key seals new values; all keys open.
type KeyRing struct {
	keys []ringKey
}

type ringKey struct {
	id   string
	aead cipher.AEAD
}

// NewKeyRing builds a ring from raw 16/24/32-byte AES keys, primary first.
func NewKeyRing(keys [][]byte) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring: at least one key is required")
	}
	ring := &KeyRing{}
	for i, k := range keys {
		block, err := aes.NewCipher(k)
		if err != nil {
			return nil, fmt.Errorf("keyring: key %d: %w", i, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("keyring: key %d: %w", i, err)
		}
		ring.keys = append(ring.keys, ringKey{id: KeyID(k), aead: aead})
	}
	return ring, nil
}

// KeyID returns a short fingerprint of key. It reveals nothing usable about the key.
func KeyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

// Seal encrypts plaintext with the primary key and returns the full envelope.
func (k *KeyRing) Seal(providerID string, plaintext []byte) ([]byte, error) {
	primary := k.keys[0]
	nonce := make([]byte, primary.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keyring: generating nonce: %w", err)
	}
	var buf bytes.Buffer
	if err := WriteHeader(&buf, Header{
		Version:    1,
		ProviderID: providerID,
		Nonce:      nonce,
		KeyID:      primary.id,
	}); err != nil {
		return nil, err
	}
	// The header is authenticated as additional data.
	aad := bytes.Clone(buf.Bytes())
	buf.Write(primary.aead.Seal(nil, nonce, plaintext, aad))
	return buf.Bytes(), nil
}

// Open decrypts an envelope produced by Seal. The key named in the header is
// tried first; the rest of the ring is tried when the id is unknown.
func (k *KeyRing) Open(envelope []byte) ([]byte, error) {
	r := bytes.NewReader(envelope)
	h, ok, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("keyring: missing envelope")
	}
	aad := envelope[:len(envelope)-r.Len()]
	payload, _ := io.ReadAll(r)

	var lastErr error
	for _, rk := range k.ordered(h.KeyID) {
		plain, err := rk.aead.Open(nil, h.Nonce, payload, aad)
		if err == nil {
			return plain, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("keyring: decryption failed with all keys: %w", lastErr)
}

func (k *KeyRing) ordered(keyID string) []ringKey {
	out := make([]ringKey, 0, len(k.keys))
	for _, rk := range k.keys {
		if rk.id == keyID {
			out = append(out, rk)
		}
	}
	for _, rk := range k.keys {
		if rk.id != keyID {
			out = append(out, rk)
		}
	}
	return out
}
