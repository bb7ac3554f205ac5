package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r recorder) Name() string { return r.name }

func (r recorder) Migrate(context.Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func TestRunOrdersByPhaseAndOrder(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	Register(Plugin{Order: 20, Phase: Schema, Migrator: recorder{name: "tables", log: &ran}})
	Register(Plugin{Order: 10, Phase: Payload, Migrator: recorder{name: "payloads", log: &ran}})
	Register(Plugin{Order: 10, Phase: Schema, Migrator: recorder{name: "extensions", log: &ran}})

	require.NoError(t, Run(context.Background(), Schema))
	require.Equal(t, []string{"extensions", "tables"}, ran)

	require.NoError(t, Run(context.Background(), Payload))
	require.Equal(t, []string{"extensions", "tables", "payloads"}, ran)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	boom := errors.New("boom")
	Register(Plugin{Order: 1, Migrator: recorder{name: "first", log: &ran, err: boom}})
	Register(Plugin{Order: 2, Migrator: recorder{name: "second", log: &ran}})

	err := Run(context.Background(), Schema)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "migration first failed")
	require.Equal(t, []string{"first"}, ran)
}

func TestTargetRoundTrip(t *testing.T) {
	_, ok := TargetFrom(context.Background())
	require.False(t, ok)

	ctx := WithTarget(context.Background(), Target{Prefix: "assistant"})
	got, ok := TargetFrom(ctx)
	require.True(t, ok)
	require.Equal(t, "assistant", got.Prefix)
}
