// Package slottest is a conformance suite every slot backend runs in its tests.
package slottest

import (
	"context"
	"testing"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/stretchr/testify/require"
)

// Run exercises the slot contract against s. Keys are scoped under a prefix
// unique to the test so suites can share a backend.
func Run(t *testing.T, s registryslot.Slot) {
	t.Helper()
	ctx := context.Background()
	prefix := "conformance/" + t.Name()

	t.Run("absent key", func(t *testing.T) {
		_, ok, err := s.Get(ctx, prefix+"/u/missing")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("set overwrites", func(t *testing.T) {
		key := prefix + "/u/overwrite"
		require.NoError(t, s.Set(ctx, key, "first"))
		require.NoError(t, s.Set(ctx, key, `{"version":1,"data":{"text":"ünïcode"}}`))
		v, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, `{"version":1,"data":{"text":"ünïcode"}}`, v)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		key := prefix + "/u/remove"
		require.NoError(t, s.Set(ctx, key, "x"))
		require.NoError(t, s.Remove(ctx, key))
		require.NoError(t, s.Remove(ctx, key))
		_, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		p := prefix + "/keys"
		require.NoError(t, s.Set(ctx, p+"/alice/b", "1"))
		require.NoError(t, s.Set(ctx, p+"/alice/a", "1"))
		require.NoError(t, s.Set(ctx, p+"/bob/a", "1"))
		keys, err := s.Keys(ctx, p+"/alice/")
		require.NoError(t, err)
		require.Equal(t, []string{p + "/alice/a", p + "/alice/b"}, keys)
	})
}
