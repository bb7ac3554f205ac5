package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/plugin/slot/memory"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type item struct {
	store.Meta
	Name string `json:"name"`
	Uses int    `json:"uses"`
}

type tally struct {
	Items []item `json:"items"`
	Count int    `json:"count"`
}

func defaultTally() tally {
	return tally{Items: []item{}}
}

var tallyCodec = codec.MustNew(1, defaultTally)

const key = "assistant/alice/tally"

func newStore(t *testing.T, slot *memory.Slot, opts ...store.Option) *store.Store[tally] {
	t.Helper()
	b, err := registryslot.NewNamespace(slot).Bind(key)
	require.NoError(t, err)
	s := store.New("tally", tallyCodec, append([]store.Option{store.WithBinding(b)}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func increment(s tally) (tally, bool) {
	s.Count++
	return s, true
}

func TestInitWithoutSavedState(t *testing.T) {
	s := newStore(t, memory.New())
	s.Init(context.Background())
	require.Equal(t, store.LoadAbsent, s.LoadReason())
	require.Empty(t, cmp.Diff(defaultTally(), s.Snapshot()))
	require.Zero(t, s.Revision())
}

func TestInitFallsBackOnCorruptData(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	require.NoError(t, slot.Set(ctx, key, "{not json"))

	s := newStore(t, slot)
	require.NotPanics(t, func() { s.Init(ctx) })
	require.Equal(t, store.LoadCorrupt, s.LoadReason())
	require.Empty(t, cmp.Diff(defaultTally(), s.Snapshot()))

	// The store keeps working in memory and overwrites the corrupt value.
	require.True(t, s.Update(ctx, increment))
	raw, ok, err := slot.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"version":1,"data":{"items":[],"count":1}}`, raw)
}

func TestInitDropsBadRecords(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	require.NoError(t, slot.Set(ctx, key, `{"version":1,"data":{"count":3,"items":[
		{"id":"a","createdAt":"2026-10-19T09:00:00Z","updatedAt":"2026-10-19T09:00:00Z","name":"ok"},
		{"id":"b","createdAt":"yesterday","updatedAt":"2026-10-19T09:00:00Z","name":"bad"}
	]}}`))

	s := newStore(t, slot)
	s.Init(ctx)
	require.Equal(t, store.LoadOK, s.LoadReason())
	snap := s.Snapshot()
	require.Equal(t, 3, snap.Count)
	require.Len(t, snap.Items, 1)
	require.Equal(t, "a", snap.Items[0].ID)
}

func TestLegacyPayloadIsRewritten(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	require.NoError(t, slot.Set(ctx, key, `{"items":[],"count":7}`))

	s := newStore(t, slot)
	s.Init(ctx)
	require.Equal(t, 7, s.Snapshot().Count)

	raw, _, err := slot.Get(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":1,"data":{"items":[],"count":7}}`, raw)
}

func TestUpdatePersistsAndBumpsRevision(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	s := newStore(t, slot)

	require.True(t, s.Update(ctx, increment))
	require.True(t, s.Update(ctx, increment))
	require.False(t, s.Update(ctx, func(s tally) (tally, bool) { return s, false }))
	require.Equal(t, uint64(2), s.Revision())

	s.Close()
	reopened := newStore(t, slot)
	reopened.Init(ctx)
	require.Equal(t, 2, reopened.Snapshot().Count)
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	s := newStore(t, slot)
	slot.FailWrites(errors.New("quota exceeded"))

	require.True(t, s.Update(ctx, increment))
	require.Equal(t, 1, s.Snapshot().Count)
	require.ErrorContains(t, s.SaveErr(), "quota exceeded")

	slot.FailWrites(nil)
	require.True(t, s.Update(ctx, increment))
	require.NoError(t, s.SaveErr())
}

func TestReadFailureNeverOverwritesStoredState(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	stored := `{"version":1,"data":{"items":[],"count":7}}`
	require.NoError(t, slot.Set(ctx, key, stored))

	slot.FailReads(errors.New("connection refused"))
	s := newStore(t, slot)
	s.Init(ctx)
	require.Equal(t, store.LoadError, s.LoadReason())
	require.True(t, s.Detached())
	slot.FailReads(nil)

	require.True(t, s.Update(ctx, increment))
	require.Equal(t, 1, s.Snapshot().Count)
	raw, ok, err := slot.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, stored, raw)

	s.Close()
	reopened := newStore(t, slot)
	reopened.Init(ctx)
	require.Equal(t, store.LoadOK, reopened.LoadReason())
	require.False(t, reopened.Detached())
	require.Equal(t, 7, reopened.Snapshot().Count)
}

func TestResetRestoresDefaults(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New())
	s.Update(ctx, increment)
	s.Reset(ctx)
	require.Empty(t, cmp.Diff(defaultTally(), s.Snapshot()))
	require.Equal(t, uint64(2), s.Revision())
}

func TestUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(ctx, increment)
		}()
	}
	wg.Wait()
	snap, rev := s.View()
	require.Equal(t, 50, snap.Count)
	require.Equal(t, uint64(50), rev)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New())

	var seen []int
	cancel := s.Subscribe(func(v tally) { seen = append(seen, v.Count) })
	s.Update(ctx, increment)
	s.Update(ctx, increment)
	cancel()
	cancel()
	s.Update(ctx, increment)
	require.Equal(t, []int{1, 2}, seen)
}

func TestSubscribersSeeRevisionOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New())

	var mu sync.Mutex
	var seen []int
	defer s.Subscribe(func(v tally) {
		mu.Lock()
		seen = append(seen, v.Count)
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(ctx, increment)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, count := range seen {
		require.Equal(t, i+1, count)
	}
}

func TestBindingIsExclusive(t *testing.T) {
	ns := registryslot.NewNamespace(memory.New())
	b, err := ns.Bind(key)
	require.NoError(t, err)
	s := store.New("tally", tallyCodec, store.WithBinding(b))

	_, err = ns.Bind(key)
	require.ErrorIs(t, err, registryslot.ErrKeyBound)

	s.Close()
	_, err = ns.Bind(key)
	require.NoError(t, err)
}

func TestScheduledTasksStopOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := store.New("tally", tallyCodec)
	ticks := make(chan struct{}, 16)
	s.Schedule(time.Millisecond, func(ctx context.Context) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	stopped := s.Schedule(time.Hour, func(context.Context) {})
	stopped.Stop()
	stopped.Stop()
	require.Equal(t, 1, s.Tasks())

	<-ticks
	s.Close()
	require.Zero(t, s.Tasks())

	late := s.Schedule(time.Millisecond, func(context.Context) { t.Fatal("ran after close") })
	<-late.Done()
}

func TestMemoryOnlyStore(t *testing.T) {
	s := store.New("tally", tallyCodec)
	defer s.Close()
	require.True(t, s.Update(context.Background(), increment))
	require.NoError(t, s.SaveErr())
	require.Equal(t, store.LoadAbsent, s.LoadReason())
}
