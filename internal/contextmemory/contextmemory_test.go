package contextmemory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/plugin/slot/memory"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/stretchr/testify/require"
)

var T = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *store.ManualClock, *memory.Slot) {
	t.Helper()
	slot := memory.New()
	b, err := registryslot.NewNamespace(slot).Bind(registryslot.Key("assistant", "alice", Key))
	require.NoError(t, err)
	clock := store.NewManualClock(T)
	s := New(store.WithBinding(b), store.WithClock(clock))
	t.Cleanup(s.Close)
	s.Init(context.Background())
	return s, clock, slot
}

func names(seq func(func(Topic) bool)) []string {
	var out []string
	for t := range seq {
		out = append(out, t.Name)
	}
	return out
}

func TestRecordMessage(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()

	require.Equal(t, []string{"technology", "work"}, s.RecordMessage(ctx, "The app   deadline is Friday"))
	require.Empty(t, s.RecordMessage(ctx, "hello there"))
	clock.Advance(time.Minute)
	require.Equal(t, []string{"work"}, s.RecordMessage(ctx, "another meeting"))

	topics := s.Snapshot().Topics
	require.Len(t, topics, 2)
	work := topics[1]
	require.Equal(t, "work", work.Name)
	require.Equal(t, 2, work.Mentions)
	require.Equal(t, []string{"The app deadline is Friday", "another meeting"}, work.Snippets)
	require.Equal(t, T, work.CreatedAt)
	require.Equal(t, T.Add(time.Minute), work.LastMentioned)

	require.Equal(t, []string{"work", "technology"}, names(s.TopTopics(0)))
	require.Equal(t, []string{"work"}, names(s.RecentTopics(1)))
}

func TestTopTopicsKeepsInsertionOrderOnTies(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	require.Equal(t, []string{"technology"}, s.RecordMessage(ctx, "wrote some code"))
	clock.Advance(time.Minute)
	require.Equal(t, []string{"health"}, s.RecordMessage(ctx, "saw the doctor"))

	require.Equal(t, []string{"technology", "health"}, names(s.TopTopics(0)))
	require.Equal(t, []string{"health", "technology"}, names(s.RecentTopics(0)))
}

func TestSnippetsCapped(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	for i := range MaxSnippets + 2 {
		s.RecordMessage(ctx, fmt.Sprintf("recipe %d", i))
	}
	food := s.Snapshot().Topics[0]
	require.Equal(t, MaxSnippets+2, food.Mentions)
	require.Equal(t, []string{"recipe 2", "recipe 3", "recipe 4", "recipe 5", "recipe 6"}, food.Snippets)

	s.RecordMessage(ctx, "recipe "+strings.Repeat("x", 300))
	last := s.Snapshot().Topics[0].Snippets
	require.Len(t, []rune(last[len(last)-1]), maxSnippetLen)
}

func TestTopicEvictionKeepsFrequent(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	s.RecordMessage(ctx, "weather")
	s.RecordMessage(ctx, "weather")

	s.Store.Update(ctx, func(st State) (State, bool) {
		for i := range MaxTopics {
			now := clock.Advance(time.Second)
			st.Topics = append(slices.Clone(st.Topics), Topic{ID: store.NewID(), Name: fmt.Sprint("t", i), Mentions: 1, CreatedAt: now, LastMentioned: now})
		}
		return st, true
	})
	require.Len(t, s.Snapshot().Topics, MaxTopics+1)

	clock.Advance(time.Second)
	s.RecordMessage(ctx, "family dinner")
	topics := s.Snapshot().Topics
	require.Len(t, topics, MaxTopics)
	got := names(slices.Values(topics))
	require.Contains(t, got, "weather")
	require.Contains(t, got, "family")
	require.NotContains(t, got, "t0")
	require.NotContains(t, got, "t1")
	require.NotContains(t, got, "t2")
}

func TestPreferences(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()

	_, err := s.SetPreference(ctx, " ", "x")
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)

	before := s.Snapshot()
	p, err := s.SetPreference(ctx, "tone", "casual")
	require.NoError(t, err)
	require.Equal(t, T, p.UpdatedAt)
	require.Empty(t, before.Preferences, "earlier snapshots are not mutated")

	clock.Advance(time.Hour)
	_, err = s.SetPreference(ctx, "tone", "formal")
	require.NoError(t, err)
	v, ok := s.Preference("tone")
	require.True(t, ok)
	require.Equal(t, "formal", v)

	require.True(t, s.RemovePreference(ctx, "tone"))
	rev := s.Revision()
	require.False(t, s.RemovePreference(ctx, "tone"))
	require.Equal(t, rev, s.Revision())
}

func TestFacts(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddFact(ctx, "", "")
	require.Error(t, err)

	var first store.Meta
	for i := range MaxFacts + 1 {
		f, err := s.AddFact(ctx, fmt.Sprint("fact ", i), "chat")
		require.NoError(t, err)
		if i == 0 {
			first = f.Meta
		}
		clock.Advance(time.Second)
	}
	facts := s.Snapshot().Facts
	require.Len(t, facts, MaxFacts)
	require.Equal(t, "fact 1", facts[0].Text)

	_, ok := store.Find(facts, first.ID)
	require.False(t, ok)
	require.False(t, s.RemoveFact(ctx, first.ID))
	require.True(t, s.RemoveFact(ctx, facts[0].ID))

	newest := slices.Collect(s.Facts())[0]
	require.Equal(t, fmt.Sprint("fact ", MaxFacts), newest.Text)
}

func TestSummary(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	require.Equal(t, "", s.Summary())

	s.RecordMessage(ctx, "my job")
	s.RecordMessage(ctx, "project meeting about the app")
	_, err := s.SetPreference(ctx, "tone", "casual")
	require.NoError(t, err)
	_, err = s.SetPreference(ctx, "language", "en")
	require.NoError(t, err)
	_, err = s.AddFact(ctx, "Has a dog named Rex", "chat")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.AddFact(ctx, "Lives in Lisbon", "chat")
	require.NoError(t, err)

	require.Equal(t, strings.Join([]string{
		"Topics of interest: work (2), technology (1)",
		"Preferences: language=en, tone=casual",
		"Known facts:",
		"- Lives in Lisbon",
		"- Has a dog named Rex",
	}, "\n"), s.Summary())
}

func TestClearAndLegacyPayload(t *testing.T) {
	s, _, slot := newStore(t)
	ctx := context.Background()
	s.RecordMessage(ctx, "movie night")
	s.Clear(ctx)
	require.Equal(t, Defaults(), s.Snapshot())
	s.Close()

	key := registryslot.Key("assistant", "bob", Key)
	require.NoError(t, slot.Set(ctx, key, `[{"id":"t1","name":"music","mentions":3,"snippets":["jazz"],"createdAt":"2026-10-01T00:00:00Z","lastMentioned":"2026-10-02T00:00:00Z"},{"name":"broken"}]`))
	b, err := registryslot.NewNamespace(slot).Bind(key)
	require.NoError(t, err)
	legacy := New(store.WithBinding(b))
	t.Cleanup(legacy.Close)
	legacy.Init(ctx)

	topics := legacy.Snapshot().Topics
	require.Len(t, topics, 1)
	require.Equal(t, "music", topics[0].Name)
	require.Equal(t, 3, topics[0].Mentions)
	require.NotNil(t, legacy.Snapshot().Preferences)
}
