package dek_test

import (
	"context"
	"testing"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/dataencryption"
	"github.com/chirino/assistant-state/internal/registry/encrypt"
	"github.com/stretchr/testify/require"

	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/dek"
)

// 32-byte AES-256 keys encoded as hex.
const testKeyHex = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
const legacyKeyHex = "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2"

func newProvider(t *testing.T, keyCSV string) encrypt.Provider {
	t.Helper()
	plugin, err := encrypt.Select("dek")
	require.NoError(t, err)
	p, err := plugin.Loader(context.Background(), &config.Config{EncryptionKey: keyCSV})
	require.NoError(t, err)
	return p
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, testKeyHex)
	plaintext := []byte(`{"version":1,"data":{"facts":[]}}`)

	ct, err := p.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	require.True(t, dataencryption.HasMagic(ct))

	got, err := p.Decrypt(ctx, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptWithKeyRotation(t *testing.T) {
	ctx := context.Background()
	ct, err := newProvider(t, legacyKeyHex).Encrypt(ctx, []byte("key rotation test"))
	require.NoError(t, err)

	got, err := newProvider(t, testKeyHex+","+legacyKeyHex).Decrypt(ctx, ct)
	require.NoError(t, err)
	require.Equal(t, "key rotation test", string(got))
}

func TestMissingKeyFails(t *testing.T) {
	plugin, err := encrypt.Select("dek")
	require.NoError(t, err)
	_, err = plugin.Loader(context.Background(), &config.Config{})
	require.Error(t, err)
}
