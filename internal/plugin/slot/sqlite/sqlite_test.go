package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/assistant-state/internal/plugin/slot/slottest"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSlot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "slots.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "assistant/alice/smart-reminders", `{"version":1,"data":{}}`))
	require.NoError(t, s.Set(ctx, "assistant/alice/smart-reminders", `{"version":1,"data":{"reminders":[]}}`))
	require.NoError(t, s.Set(ctx, "assistant/bob_1/team-workspace", `{}`))

	v, ok, err := s.Get(ctx, "assistant/alice/smart-reminders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"version":1,"data":{"reminders":[]}}`, v)

	// "_" in the prefix must not act as a wildcard.
	keys, err := s.Keys(ctx, "assistant/bob_")
	require.NoError(t, err)
	require.Equal(t, []string{"assistant/bob_1/team-workspace"}, keys)

	require.NoError(t, s.Remove(ctx, "assistant/alice/smart-reminders"))
	require.NoError(t, s.Remove(ctx, "assistant/alice/smart-reminders"))
	_, ok, err = s.Get(ctx, "assistant/alice/smart-reminders")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Close())

	// Values survive a reopen.
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	_, ok, err = s.Get(ctx, "assistant/bob_1/team-workspace")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSQLiteConformance(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "conformance.db"))
	require.NoError(t, err)
	defer s.Close()
	slottest.Run(t, s)
}
