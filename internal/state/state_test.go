package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/conversations"
	"github.com/chirino/assistant-state/internal/offline"
	"github.com/chirino/assistant-state/internal/plugin/notify/stream"
	"github.com/chirino/assistant-state/internal/plugin/slot/memory"
	registrymigrate "github.com/chirino/assistant-state/internal/registry/migrate"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/reminders"
	"github.com/chirino/assistant-state/internal/seed"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/chirino/assistant-state/internal/voicecommands"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(t *testing.T, opts Options) (*Manager, *memory.Slot) {
	t.Helper()
	slot := memory.New()
	opts.Slot = slot
	m := NewManager(opts)
	t.Cleanup(m.Close)
	return m, slot
}

func TestOpenIsLazyAndShared(t *testing.T) {
	m, _ := newManager(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	sets := make([]*Set, 10)
	errs := make([]error, 10)
	for i := range sets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sets[i], errs[i] = m.Open(ctx, "alice")
		}()
	}
	wg.Wait()
	for i, s := range sets {
		require.NoError(t, errs[i])
		require.Same(t, sets[0], s)
	}
	require.Equal(t, []string{"alice"}, m.Users())

	bob, err := m.Open(ctx, "bob")
	require.NoError(t, err)
	require.NotSame(t, sets[0], bob)

	_, err = m.Open(ctx, "")
	require.Error(t, err)
}

func TestStoresAreBoundToUserKeys(t *testing.T) {
	m, slot := newManager(t, Options{Prefix: "test"})
	ctx := context.Background()
	s, err := m.Open(ctx, "alice")
	require.NoError(t, err)

	for _, e := range s.Entries() {
		require.Equal(t, store.LoadAbsent, e.LoadReason(), e.Name)
	}
	_, err = s.Context.AddFact(ctx, "likes tea", "")
	require.NoError(t, err)

	raw, ok, err := slot.Get(ctx, registryslot.Key("test", "alice", "context-memory"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, raw, "likes tea")

	keys, err := slot.Keys(ctx, "test/bob/")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStateSurvivesReopen(t *testing.T) {
	slot := memory.New()
	ctx := context.Background()

	m := NewManager(Options{Slot: slot})
	s, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	_, err = s.Reminders.Create(ctx, reminders.Draft{Text: "stretch", TriggerAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	m.Close()

	_, err = m.Open(ctx, "alice")
	require.ErrorIs(t, err, ErrClosed)

	again := NewManager(Options{Slot: slot})
	t.Cleanup(again.Close)
	s, err = again.Open(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, store.LoadOK, s.Reminders.LoadReason())
	require.Len(t, s.Reminders.Snapshot().Reminders, 1)
}

func TestUnreadableStateIsRetriedOnNextOpen(t *testing.T) {
	m, slot := newManager(t, Options{})
	ctx := context.Background()
	s, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	_, err = s.Context.AddFact(ctx, "likes tea", "")
	require.NoError(t, err)
	m.Close()

	again := NewManager(Options{Slot: slot})
	t.Cleanup(again.Close)
	slot.FailReads(errors.New("connection refused"))
	s, err = again.Open(ctx, "alice")
	require.NoError(t, err)
	require.True(t, s.Degraded())
	require.Empty(t, again.Users())
	slot.FailReads(nil)

	_, err = s.Context.AddFact(ctx, "in memory only", "")
	require.NoError(t, err)
	raw, ok, err := slot.Get(ctx, registryslot.Key("assistant", "alice", "context-memory"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, raw, "likes tea")
	require.NotContains(t, raw, "in memory only")

	s, err = again.Open(ctx, "alice")
	require.NoError(t, err)
	require.False(t, s.Degraded())
	require.Equal(t, []string{"alice"}, again.Users())
	require.Len(t, s.Context.Snapshot().Facts, 1)
	require.Equal(t, "likes tea", s.Context.Snapshot().Facts[0].Text)
}

func TestSeedOnlyOnFirstOpen(t *testing.T) {
	f, err := seed.Parse([]byte("commands:\n  - phrase: hello\n    action: respond\n    response: hi\n"))
	require.NoError(t, err)
	slot := memory.New()
	ctx := context.Background()

	m := NewManager(Options{Slot: slot, Seed: f})
	s, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	cmds := s.Commands.Snapshot().Commands
	require.Len(t, cmds, 1)
	require.True(t, s.Commands.Remove(ctx, cmds[0].ID))
	m.Close()

	again := NewManager(Options{Slot: slot, Seed: f})
	t.Cleanup(again.Close)
	s, err = again.Open(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, s.Commands.Snapshot().Commands)
}

func TestEntryResetAndView(t *testing.T) {
	m, _ := newManager(t, Options{})
	ctx := context.Background()
	s, err := m.Open(ctx, "alice")
	require.NoError(t, err)

	_, err = s.Commands.Add(ctx, voicecommands.Input{Phrase: "lights", Action: voicecommands.Respond, Response: "ok"})
	require.NoError(t, err)

	e, ok := s.Entry(voicecommands.Key)
	require.True(t, ok)
	v, rev := e.View()
	require.Equal(t, uint64(1), rev)
	require.Len(t, v.(voicecommands.State).Commands, 1)

	e.Reset(ctx)
	v, rev = e.View()
	require.Equal(t, uint64(2), rev)
	require.Empty(t, v.(voicecommands.State).Commands)

	_, ok = s.Entry("nope")
	require.False(t, ok)
}

func TestReminderPollingNotifies(t *testing.T) {
	hub := stream.NewHub()
	clock := store.NewManualClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	m, _ := newManager(t, Options{Notifier: hub, Clock: clock, ReminderPollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	ch, cancel := hub.Subscribe("alice")
	defer cancel()

	s, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	r, err := s.Reminders.Create(ctx, reminders.Draft{Text: "stand up", TriggerAt: clock.Now().Add(time.Minute)})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	select {
	case n := <-ch:
		require.Equal(t, "stand up", n.Body)
		require.Equal(t, "reminder-"+r.ID, n.Tag)
	case <-time.After(5 * time.Second):
		t.Fatal("no reminder notification")
	}
}

func TestUpgrade(t *testing.T) {
	out, changed, err := Upgrade(reminders.Key, `[]`)
	require.NoError(t, err)
	require.True(t, changed)
	require.JSONEq(t, `{"version":1,"data":{"reminders":[]}}`, out)

	_, _, err = Upgrade("unknown", `{}`)
	require.Error(t, err)
}

func TestUpgradeAll(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	require.NoError(t, slot.Set(ctx, "assistant/alice/"+reminders.Key, `[]`))
	require.NoError(t, slot.Set(ctx, "assistant/alice/"+offline.Key, `{"version":1,"data":{"online":true,"entries":[],"pending":[]}}`))
	require.NoError(t, slot.Set(ctx, "assistant/bob/"+conversations.Key, `not json`))
	require.NoError(t, slot.Set(ctx, "assistant/bob/unknown-store", `{}`))
	require.NoError(t, slot.Set(ctx, "other/bob/"+reminders.Key, `[]`))

	report, err := UpgradeAll(ctx, slot, "assistant")
	require.NoError(t, err)
	require.Equal(t, UpgradeReport{Scanned: 4, Upgraded: 1, Skipped: 1, Failed: 1}, report)

	raw, ok, err := slot.Get(ctx, "assistant/alice/"+reminders.Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"version":1,"data":{"reminders":[]}}`, raw)

	raw, _, _ = slot.Get(ctx, "other/bob/"+reminders.Key)
	require.Equal(t, `[]`, raw)
}

func TestPayloadMigratorRunsThroughRegistry(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	require.NoError(t, slot.Set(ctx, "assistant/alice/"+reminders.Key, `[]`))

	require.Error(t, registrymigrate.Run(ctx, registrymigrate.Payload), "the payload phase needs a target")

	target := registrymigrate.Target{Slot: slot, Prefix: "assistant"}
	require.NoError(t, registrymigrate.Run(registrymigrate.WithTarget(ctx, target), registrymigrate.Payload))
	raw, _, err := slot.Get(ctx, "assistant/alice/"+reminders.Key)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"data":{"reminders":[]}}`, raw)
}
