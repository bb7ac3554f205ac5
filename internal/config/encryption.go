package config

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// keyEncodings are tried in order; the first that yields an AES key length wins.
var keyEncodings = []func(string) ([]byte, error){
	hex.DecodeString,
	base64.StdEncoding.DecodeString,
	base64.RawStdEncoding.DecodeString,
	base64.URLEncoding.DecodeString,
	base64.RawURLEncoding.DecodeString,
}

// DecodeEncryptionKey decodes one hex or base64 AES-128/192/256 key.
func DecodeEncryptionKey(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	for _, decode := range keyEncodings {
		if b, err := decode(value); err == nil && slices.Contains([]int{16, 24, 32}, len(b)) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("key must be hex or base64 encoded 16/24/32-byte value")
}

// DecodeEncryptionKeysCSV parses comma-separated keys, skipping blank entries.
// The first key seals new values; the rest only open values sealed before a
// rotation. A key listed twice is rejected.
func DecodeEncryptionKeysCSV(raw string) ([][]byte, error) {
	var keys [][]byte
	for i, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, err := DecodeEncryptionKey(part)
		if err != nil {
			return nil, fmt.Errorf("encryption key %d: %w", i+1, err)
		}
		if slices.ContainsFunc(keys, func(k []byte) bool { return bytes.Equal(k, key) }) {
			return nil, fmt.Errorf("encryption key %d: listed twice", i+1)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// EncryptionKeys decodes EncryptionKey for the dek provider.
func (c *Config) EncryptionKeys() ([][]byte, error) {
	keys, err := DecodeEncryptionKeysCSV(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("ASSISTANT_STATE_ENCRYPTION_KEY is required")
	}
	return keys, nil
}
