package seed

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/chirino/assistant-state/internal/store"
	"github.com/chirino/assistant-state/internal/voicecommands"
	"github.com/chirino/assistant-state/internal/workflows"
	"github.com/stretchr/testify/require"
)

const doc = `
commands:
  - phrase: good morning
    action: respond
    response: Good morning!
  - phrase: open news
    action: open_url
    target: https://news.example.com
    enabled: false
workflows:
  - name: Leaving home
    phrases: ["i'm leaving", "heading out"]
    actions:
      - type: webhook
        url: https://example.com/hooks/away
      - type: respond
        message: Have a good trip
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.False(t, f.Empty())
	require.Len(t, f.Commands, 2)
	require.Equal(t, voicecommands.Action("open_url"), f.Commands[1].Action)
	require.NotNil(t, f.Commands[1].Enabled)
	require.False(t, *f.Commands[1].Enabled)
	require.Equal(t, []string{"i'm leaving", "heading out"}, f.Workflows[0].Phrases)

	ctx := context.Background()
	commands := voicecommands.New()
	flows := workflows.New(&workflows.Runner{})
	t.Cleanup(commands.Close)
	t.Cleanup(flows.Close)
	commands.Init(ctx)
	flows.Init(ctx)

	require.NoError(t, f.Apply(ctx, commands, flows))
	require.Len(t, slices.Collect(commands.All()), 2)
	require.Len(t, slices.Collect(flows.All()), 1)

	// Seeding never touches a collection that already has entries.
	require.NoError(t, f.Apply(ctx, commands, flows))
	require.Len(t, slices.Collect(commands.All()), 2)
}

func TestLoadEmptyPath(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	require.True(t, f.Empty())

	f, err = Parse(nil)
	require.NoError(t, err)
	require.True(t, f.Empty())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("commandz: []\n"))
	require.Error(t, err)
}

func TestApplyRejectsInvalidDefaults(t *testing.T) {
	f, err := Parse([]byte("commands:\n  - phrase: hi\n    action: dance\n"))
	require.NoError(t, err)

	commands := voicecommands.New()
	t.Cleanup(commands.Close)
	commands.Init(context.Background())
	err = f.Apply(context.Background(), commands, nil)
	require.ErrorAs(t, err, new(*store.ValidationError))
}
