package encrypted_test

import (
	"context"
	"strings"
	"testing"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/dataencryption"
	"github.com/chirino/assistant-state/internal/plugin/slot/encrypted"
	"github.com/chirino/assistant-state/internal/plugin/slot/memory"
	"github.com/stretchr/testify/require"

	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/dek"
	_ "github.com/chirino/assistant-state/internal/plugin/encrypt/plain"
)

const keyHex = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"

func newService(t *testing.T, kind string) *dataencryption.Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EncryptionKind = kind
	cfg.EncryptionKey = keyHex
	svc, err := dataencryption.New(context.Background(), &cfg)
	require.NoError(t, err)
	return svc
}

func TestEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	raw := memory.New()
	s := encrypted.Wrap(raw, newService(t, "dek"))

	value := `{"version":1,"data":{"reminders":[{"text":"call Sam"}]}}`
	require.NoError(t, s.Set(ctx, "assistant/alice/smart-reminders", value))

	stored, ok, err := raw.Get(ctx, "assistant/alice/smart-reminders")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, stored, "call Sam")

	got, ok, err := s.Get(ctx, "assistant/alice/smart-reminders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, value, got)
}

func TestPlaintextStaysReadableAfterEnablingEncryption(t *testing.T) {
	ctx := context.Background()
	raw := memory.New()
	require.NoError(t, raw.Set(ctx, "k", `{"version":1,"data":{}}`))

	s := encrypted.Wrap(raw, newService(t, "dek,plain"))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"version":1,"data":{}}`, got)
}

func TestPlainPrimaryWritesPlaintext(t *testing.T) {
	ctx := context.Background()
	raw := memory.New()
	s := encrypted.Wrap(raw, newService(t, "plain,dek"))

	require.NoError(t, s.Set(ctx, "k", "hello"))
	stored, _, err := raw.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, strings.EqualFold(stored, "hello"))
}
