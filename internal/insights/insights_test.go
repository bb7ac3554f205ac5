package insights

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

func newStore(t *testing.T) (*Store, *store.ManualClock, registryslot.Slot) {
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

func TestRecordUserMessage(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	a := s.RecordMessage(ctx, "user", "I love my new laptop, the software is great")
	require.Equal(t, "positive", a.Label)
	require.Equal(t, 2, a.Sentiment)
	require.Equal(t, []string{"technology"}, a.Topics)
	require.Empty(t, a.Insights)

	st := s.Snapshot()
	require.Equal(t, 1, st.TotalMessages)
	require.Equal(t, 1, st.Positive)
	require.Len(t, st.Daily, 1)
	require.Equal(t, "2026-10-19", st.Daily[0].Date)
	require.Equal(t, 1, st.Daily[0].UserMessages)
	require.Equal(t, []TopicCount{{Name: "technology", Count: 1, LastMentioned: T}}, st.Topics)
}

func TestAssistantMessagesAreNotScored(t *testing.T) {
	s, _, _ := newStore(t)
	a := s.RecordMessage(context.Background(), "assistant", "I love helping with your laptop")
	require.Zero(t, a.Sentiment)
	require.Empty(t, a.Topics)

	st := s.Snapshot()
	require.Equal(t, 1, st.TotalMessages)
	require.Zero(t, st.Positive+st.Neutral+st.Negative)
	require.Equal(t, 1, st.Daily[0].AssistantMessages)
	require.Equal(t, Breakdown{}, s.SentimentBreakdown())
}

func TestTopicMilestone(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	var got []Insight
	for range 5 {
		got = append(got, s.RecordMessage(ctx, "user", "my budget is tight").Insights...)
	}
	require.Len(t, got, 1)
	require.Equal(t, KindMilestone, got[0].Kind)
	require.Equal(t, "You've talked about finance 5 times", got[0].Text)
	require.Len(t, slices.Collect(s.RecentInsights(0)), 1)
}

func TestDayMilestone(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	var texts []string
	for range 10 {
		for _, in := range s.RecordMessage(ctx, "assistant", "ok").Insights {
			texts = append(texts, in.Text)
		}
	}
	require.Equal(t, []string{"Busy day: 10 messages today"}, texts)
}

func TestDailyBucketsCapped(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	for range MaxDays + 5 {
		s.RecordMessage(ctx, "user", "hello")
		clock.Advance(24 * time.Hour)
	}
	days := s.Snapshot().Daily
	require.Len(t, days, MaxDays)
	require.Equal(t, "2026-10-24", days[0].Date)
}

func TestTopicsCapped(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	s.RecordMessage(ctx, "user", "work meeting")
	s.RecordMessage(ctx, "user", "work deadline")
	for i := range MaxTopics + 3 {
		clock.Advance(time.Minute)
		s.Store.Update(ctx, func(st State) (State, bool) {
			st.Topics, _ = bumpTopic(st.Topics, fmt.Sprintf("topic-%d", i), clock.Now())
			st.Topics, _ = store.Cap(st.Topics, MaxTopics, store.Lowest(
				func(t TopicCount) int { return t.Count },
				func(t TopicCount) time.Time { return t.LastMentioned },
			))
			return st, true
		})
	}
	topics := s.Snapshot().Topics
	require.Len(t, topics, MaxTopics)
	top := slices.Collect(s.TopTopics(1))
	require.Equal(t, "work", top[0].Name)
	require.Equal(t, 2, top[0].Count)
}

func TestDailyBucketsStayInDateOrderWhenTheClockGoesBack(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	for range weekDays {
		s.RecordMessage(ctx, "user", "hello")
		clock.Advance(24 * time.Hour)
	}
	clock.Set(T.Add(-48 * time.Hour))
	s.RecordMessage(ctx, "user", "hello")

	days := s.Snapshot().Daily
	require.Len(t, days, weekDays+1)
	require.True(t, slices.IsSortedFunc(days, func(a, b DailyStat) int { return strings.Compare(a.Date, b.Date) }))
	require.Equal(t, "2026-10-17", days[0].Date)

	w := s.Weekly()
	require.Len(t, w.Days, weekDays)
	require.Equal(t, "2026-10-19", w.Days[0].Date)
	require.Equal(t, "2026-10-25", w.Days[weekDays-1].Date)
	require.Equal(t, weekDays, w.Messages)
}

func TestWeeklyOrdersUnsortedStoredBuckets(t *testing.T) {
	s, _, _ := newStore(t)
	s.Store.Update(context.Background(), func(st State) (State, bool) {
		st.Daily = []DailyStat{{Date: "2026-10-19", Messages: 1}}
		for d := 10; d <= 16; d++ {
			st.Daily = append(st.Daily, DailyStat{Date: fmt.Sprintf("2026-10-%d", d), Messages: 1})
		}
		return st, true
	})
	w := s.Weekly()
	require.Len(t, w.Days, weekDays)
	require.Equal(t, "2026-10-12", w.Days[0].Date)
	require.Equal(t, "2026-10-19", w.Days[weekDays-1].Date)
}

func TestWeeklyAndBreakdown(t *testing.T) {
	s, clock, _ := newStore(t)
	ctx := context.Background()
	s.RecordMessage(ctx, "user", "this is great")
	s.RecordMessage(ctx, "user", "this is awful and terrible")
	clock.Advance(24 * time.Hour)
	s.RecordMessage(ctx, "user", "thanks, perfect")
	s.RecordMessage(ctx, "user", "fine")
	s.RecordMessage(ctx, "assistant", "anything else?")

	w := s.Weekly()
	require.Len(t, w.Days, 2)
	require.Equal(t, 5, w.Messages)
	require.Equal(t, "2026-10-20", w.BusiestDay)
	// (1 - 2 + 2 + 0) / 4 scored messages
	require.Equal(t, 0.25, w.AverageSentiment)

	b := s.SentimentBreakdown()
	require.Equal(t, Breakdown{Positive: 50, Neutral: 25, Negative: 25, Total: 4}, b)
}

func TestAddInsightAndClear(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddInsight(ctx, "  ")
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)

	first, err := s.AddInsight(ctx, "first")
	require.NoError(t, err)
	second, err := s.AddInsight(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, []Insight{second, first}, slices.Collect(s.RecentInsights(0)))

	for i := range MaxInsights {
		_, err := s.AddInsight(ctx, fmt.Sprint(i))
		require.NoError(t, err)
	}
	require.Len(t, s.Snapshot().Insights, MaxInsights)

	s.Clear(ctx)
	require.Equal(t, Defaults(), s.Snapshot())
}

func TestReload(t *testing.T) {
	s, _, slot := newStore(t)
	ctx := context.Background()
	s.RecordMessage(ctx, "user", "coffee and pizza")
	want := s.Snapshot()
	s.Close()

	b, err := registryslot.NewNamespace(slot).Bind(registryslot.Key("assistant", "alice", Key))
	require.NoError(t, err)
	again := New(store.WithBinding(b))
	t.Cleanup(again.Close)
	again.Init(ctx)
	require.Equal(t, store.LoadOK, again.LoadReason())
	require.Equal(t, want, again.Snapshot())
}
