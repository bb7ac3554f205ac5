// Package insights aggregates conversation statistics: daily message counts,
// keyword sentiment, topic frequency and milestone insights.
package insights

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/analysis"
	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the insights store.
const Key = "conversation-insights"

const (
	MaxInsights = 50
	MaxDays     = 30
	MaxTopics   = 20
	weekDays    = 7
	dayLayout   = "2006-01-02"
)

var (
	topicMilestones = []int{5, 10, 25}
	dayMilestones   = []int{10, 25, 50}
)

// Insight kinds.
const (
	KindMilestone = "milestone"
	KindNote      = "note"
)

type Insight struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (i Insight) Validate() error {
	if i.ID == "" || i.CreatedAt.IsZero() {
		return errors.New("insight without id or createdAt")
	}
	return nil
}

type DailyStat struct {
	Date              string `json:"date"`
	Messages          int    `json:"messages"`
	UserMessages      int    `json:"userMessages"`
	AssistantMessages int    `json:"assistantMessages"`
	SentimentTotal    int    `json:"sentimentTotal"`
	Positive          int    `json:"positive"`
	Neutral           int    `json:"neutral"`
	Negative          int    `json:"negative"`
}

func (d DailyStat) Validate() error {
	_, err := time.Parse(dayLayout, d.Date)
	return err
}

// Scored is the number of messages that received a sentiment score.
func (d DailyStat) Scored() int { return d.Positive + d.Neutral + d.Negative }

type TopicCount struct {
	Name          string    `json:"name"`
	Count         int       `json:"count"`
	LastMentioned time.Time `json:"lastMentioned"`
}

func (t TopicCount) Validate() error {
	if t.Name == "" || t.LastMentioned.IsZero() {
		return errors.New("topic without name or lastMentioned")
	}
	return nil
}

type State struct {
	Insights      []Insight    `json:"insights"`
	Daily         []DailyStat  `json:"daily"`
	Topics        []TopicCount `json:"topics"`
	TotalMessages int          `json:"totalMessages"`
	Positive      int          `json:"positive"`
	Neutral       int          `json:"neutral"`
	Negative      int          `json:"negative"`
}

func Defaults() State {
	return State{Insights: []Insight{}, Daily: []DailyStat{}, Topics: []TopicCount{}}
}

var Codec = codec.MustNew(1, Defaults)

type Store struct {
	*store.Store[State]
}

func New(opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...)}
}

// Analysis is what RecordMessage learned from one message.
type Analysis struct {
	Sentiment int       `json:"sentiment"`
	Label     string    `json:"label"`
	Topics    []string  `json:"topics"`
	Insights  []Insight `json:"insights"`
}

// RecordMessage counts a message. User messages are also scored for
// sentiment and topics; reaching a milestone appends an insight.
func (s *Store) RecordMessage(ctx context.Context, role, text string) Analysis {
	var out Analysis
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		out = Analysis{Topics: []string{}, Insights: []Insight{}}
		user := role == "user"
		var score analysis.Score
		if user {
			score = analysis.Sentiment(text)
			out.Sentiment = score.Value()
			out.Label = score.Label()
			out.Topics = analysis.ExtractTopics(text)
		}

		st.TotalMessages++
		if user {
			switch out.Label {
			case analysis.Positive:
				st.Positive++
			case analysis.Negative:
				st.Negative++
			default:
				st.Neutral++
			}
		}

		var day DailyStat
		st.Daily, day = bumpDay(st.Daily, now, role, score, out.Label)
		if slices.Contains(dayMilestones, day.Messages) {
			out.Insights = append(out.Insights, newInsight(now, fmt.Sprintf("Busy day: %d messages today", day.Messages)))
		}

		for _, name := range out.Topics {
			var count int
			st.Topics, count = bumpTopic(st.Topics, name, now)
			if slices.Contains(topicMilestones, count) {
				out.Insights = append(out.Insights, newInsight(now, fmt.Sprintf("You've talked about %s %d times", name, count)))
			}
		}
		st.Topics, _ = store.Cap(st.Topics, MaxTopics, store.Lowest(
			func(t TopicCount) int { return t.Count },
			func(t TopicCount) time.Time { return t.LastMentioned },
		))

		if len(out.Insights) > 0 {
			st.Insights, _ = store.Cap(store.Append(st.Insights, out.Insights...), MaxInsights, store.FirstIn[Insight]())
		}
		return st, true
	})
	return out
}

func newInsight(now time.Time, text string) Insight {
	return Insight{ID: store.NewID(), Kind: KindMilestone, Text: text, CreatedAt: now}
}

func bumpDay(days []DailyStat, now time.Time, role string, score analysis.Score, label string) ([]DailyStat, DailyStat) {
	date := now.UTC().Format(dayLayout)
	out := slices.Clone(days)
	i := slices.IndexFunc(out, func(d DailyStat) bool { return d.Date == date })
	if i < 0 {
		// a clock that moved back still lands the bucket in date order
		i = slices.IndexFunc(out, func(d DailyStat) bool { return d.Date > date })
		if i < 0 {
			i = len(out)
		}
		out = slices.Insert(out, i, DailyStat{Date: date})
	}
	d := &out[i]
	d.Messages++
	switch role {
	case "user":
		d.UserMessages++
		d.SentimentTotal += score.Value()
		switch label {
		case analysis.Positive:
			d.Positive++
		case analysis.Negative:
			d.Negative++
		default:
			d.Neutral++
		}
	case "assistant":
		d.AssistantMessages++
	}
	day := *d
	out, _ = store.Cap(out, MaxDays, store.Oldest(func(d DailyStat) time.Time {
		t, _ := time.Parse(dayLayout, d.Date)
		return t
	}))
	return out, day
}

func bumpTopic(topics []TopicCount, name string, now time.Time) ([]TopicCount, int) {
	out := slices.Clone(topics)
	if i := slices.IndexFunc(out, func(t TopicCount) bool { return t.Name == name }); i >= 0 {
		out[i].Count++
		out[i].LastMentioned = store.Touch(out[i].LastMentioned, now)
		return out, out[i].Count
	}
	return append(out, TopicCount{Name: name, Count: 1, LastMentioned: now}), 1
}

// AddInsight appends a free-form insight.
func (s *Store) AddInsight(ctx context.Context, text string) (Insight, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Insight{}, &store.ValidationError{Field: "text", Message: "must not be empty"}
	}
	var in Insight
	s.Store.Update(ctx, func(st State) (State, bool) {
		in = Insight{ID: store.NewID(), Kind: KindNote, Text: text, CreatedAt: s.Clock().Now()}
		st.Insights, _ = store.Cap(store.Append(st.Insights, in), MaxInsights, store.FirstIn[Insight]())
		return st, true
	})
	return in, nil
}

// Clear resets every statistic.
func (s *Store) Clear(ctx context.Context) {
	s.Reset(ctx)
}

// Weekly summarizes the last seven daily buckets.
type Weekly struct {
	Days             []DailyStat `json:"days"`
	Messages         int         `json:"messages"`
	AverageSentiment float64     `json:"averageSentiment"`
	BusiestDay       string      `json:"busiestDay,omitempty"`
}

func (s *Store) Weekly() Weekly {
	days := slices.SortedStableFunc(slices.Values(s.Snapshot().Daily), func(a, b DailyStat) int {
		return strings.Compare(a.Date, b.Date)
	})
	if len(days) > weekDays {
		days = days[len(days)-weekDays:]
	}
	w := Weekly{Days: slices.Clone(days)}
	if w.Days == nil {
		w.Days = []DailyStat{}
	}
	sentiment, scored, busiest := 0, 0, -1
	for _, d := range days {
		w.Messages += d.Messages
		sentiment += d.SentimentTotal
		scored += d.Scored()
		if d.Messages > busiest {
			busiest = d.Messages
			w.BusiestDay = d.Date
		}
	}
	if scored > 0 {
		w.AverageSentiment = math.Round(float64(sentiment)/float64(scored)*100) / 100
	}
	return w
}

// Breakdown is the share of user messages per sentiment label, in percent.
type Breakdown struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
	Total    int `json:"total"`
}

func (s *Store) SentimentBreakdown() Breakdown {
	st := s.Snapshot()
	b := Breakdown{Total: st.Positive + st.Neutral + st.Negative}
	if b.Total == 0 {
		return b
	}
	pct := func(n int) int { return int(math.Round(float64(n) * 100 / float64(b.Total))) }
	b.Positive = pct(st.Positive)
	b.Neutral = pct(st.Neutral)
	b.Negative = pct(st.Negative)
	return b
}

// TopTopics lists up to n topics by count. Equal counts keep first-seen order.
func (s *Store) TopTopics(n int) iter.Seq[TopicCount] {
	return store.Query(func() []TopicCount { return s.Snapshot().Topics }, nil,
		store.Descending(func(t TopicCount) int { return t.Count }), n)
}

// RecentInsights lists up to n insights, newest first.
func (s *Store) RecentInsights(n int) iter.Seq[Insight] {
	return store.Query(func() []Insight {
		out := slices.Clone(s.Snapshot().Insights)
		slices.Reverse(out)
		return out
	}, nil, nil, n)
}
