package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/assistant-state/internal/plugin/slot/slottest"
	"github.com/stretchr/testify/require"
)

func TestSlotContract(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.Get(ctx, "a/u/x")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "a/u/x", "1"))
	require.NoError(t, s.Set(ctx, "a/u/y", "2"))
	require.NoError(t, s.Set(ctx, "b/u/x", "3"))

	v, ok, err := s.Get(ctx, "a/u/x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	keys, err := s.Keys(ctx, "a/")
	require.NoError(t, err)
	require.Equal(t, []string{"a/u/x", "a/u/y"}, keys)

	require.NoError(t, s.Remove(ctx, "a/u/x"))
	require.NoError(t, s.Remove(ctx, "a/u/x"))
	_, ok, _ = s.Get(ctx, "a/u/x")
	require.False(t, ok)
}

func TestFailWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	quota := errors.New("quota exceeded")
	s.FailWrites(quota)
	require.ErrorIs(t, s.Set(ctx, "k", "v"), quota)
	s.FailWrites(nil)
	require.NoError(t, s.Set(ctx, "k", "v"))
}

func TestConformance(t *testing.T) {
	slottest.Run(t, New())
}
