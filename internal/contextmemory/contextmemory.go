// Package contextmemory remembers what a user talks about: topics with recent
// snippets, explicit preferences and free-form facts.
package contextmemory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/analysis"
	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the context memory store.
const Key = "context-memory"

const (
	MaxTopics     = 20
	MaxSnippets   = 5
	MaxFacts      = 50
	maxSnippetLen = 200
	summaryItems  = 5
)

type Topic struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Mentions      int       `json:"mentions"`
	Snippets      []string  `json:"snippets"`
	CreatedAt     time.Time `json:"createdAt"`
	LastMentioned time.Time `json:"lastMentioned"`
}

func (t Topic) Validate() error {
	if t.ID == "" || t.Name == "" || t.LastMentioned.IsZero() {
		return errors.New("topic without id, name or lastMentioned")
	}
	return nil
}

type Preference struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Fact struct {
	store.Meta
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

type State struct {
	Topics      []Topic               `json:"topics"`
	Preferences map[string]Preference `json:"preferences"`
	Facts       []Fact                `json:"facts"`
}

func Defaults() State {
	return State{Topics: []Topic{}, Preferences: map[string]Preference{}, Facts: []Fact{}}
}

// Version 0 payloads were a bare topic array.
var Codec = codec.MustNew(1, Defaults, codec.Migration{
	From:  0,
	Query: `if type == "array" then {topics: .} else . end`,
})

type Store struct {
	*store.Store[State]
}

func New(opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...)}
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxSnippetLen {
		return string(r[:maxSnippetLen])
	}
	return text
}

// RecordMessage extracts topics from text and remembers a snippet under each.
// It returns the matched topic names.
func (s *Store) RecordMessage(ctx context.Context, text string) []string {
	names := analysis.ExtractTopics(text)
	if len(names) == 0 {
		return []string{}
	}
	snip := snippet(text)
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		topics := slices.Clone(st.Topics)
		for _, name := range names {
			i := slices.IndexFunc(topics, func(t Topic) bool { return t.Name == name })
			if i < 0 {
				topics = append(topics, Topic{
					ID: store.NewID(), Name: name, Mentions: 1,
					Snippets: []string{snip}, CreatedAt: now, LastMentioned: now,
				})
				continue
			}
			t := &topics[i]
			t.Mentions++
			t.LastMentioned = store.Touch(t.LastMentioned, now)
			t.Snippets, _ = store.Cap(store.Append(t.Snippets, snip), MaxSnippets, store.FirstIn[string]())
		}
		st.Topics, _ = store.Cap(topics, MaxTopics, store.Lowest(
			func(t Topic) int { return t.Mentions },
			func(t Topic) time.Time { return t.LastMentioned },
		))
		return st, true
	})
	return names
}

// SetPreference stores value under key, replacing any previous value.
func (s *Store) SetPreference(ctx context.Context, key, value string) (Preference, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Preference{}, &store.ValidationError{Field: "key", Message: "must not be empty"}
	}
	var p Preference
	s.Store.Update(ctx, func(st State) (State, bool) {
		prefs := maps.Clone(st.Preferences)
		if prefs == nil {
			prefs = map[string]Preference{}
		}
		p = Preference{Value: value, UpdatedAt: store.Touch(prefs[key].UpdatedAt, s.Clock().Now())}
		prefs[key] = p
		st.Preferences = prefs
		return st, true
	})
	return p, nil
}

// RemovePreference deletes key. It reports whether the key existed.
func (s *Store) RemovePreference(ctx context.Context, key string) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		if _, found = st.Preferences[key]; !found {
			return st, false
		}
		prefs := maps.Clone(st.Preferences)
		delete(prefs, key)
		st.Preferences = prefs
		return st, true
	})
	return found
}

// Preference returns the value stored under key.
func (s *Store) Preference(key string) (string, bool) {
	p, ok := s.Snapshot().Preferences[key]
	return p.Value, ok
}

// AddFact remembers a fact. The oldest facts are forgotten past MaxFacts.
func (s *Store) AddFact(ctx context.Context, text, source string) (Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fact{}, &store.ValidationError{Field: "text", Message: "must not be empty"}
	}
	var f Fact
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Facts, f = store.Create(st.Facts, Fact{Text: text, Source: source}, s.Clock().Now())
		st.Facts, _ = store.Cap(st.Facts, MaxFacts, store.OldestCreated[Fact]())
		return st, true
	})
	return f, nil
}

// RemoveFact deletes a fact by id. Removing an absent fact is a no-op.
func (s *Store) RemoveFact(ctx context.Context, id string) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Facts, found = store.Remove(st.Facts, id)
		return st, found
	})
	return found
}

// Clear forgets everything.
func (s *Store) Clear(ctx context.Context) {
	s.Reset(ctx)
}

// TopTopics lists up to n topics by mentions. Equal counts keep the order the
// topics were first recorded in.
func (s *Store) TopTopics(n int) iter.Seq[Topic] {
	return store.Query(func() []Topic { return s.Snapshot().Topics }, nil,
		store.Descending(func(t Topic) int { return t.Mentions }), n)
}

// RecentTopics lists up to n topics, most recently mentioned first.
func (s *Store) RecentTopics(n int) iter.Seq[Topic] {
	return store.Query(func() []Topic { return s.Snapshot().Topics }, nil,
		store.Latest(func(t Topic) time.Time { return t.LastMentioned }), n)
}

// Facts lists facts, newest first.
func (s *Store) Facts() iter.Seq[Fact] {
	return store.Query(func() []Fact { return s.Snapshot().Facts }, nil,
		store.Latest(func(f Fact) time.Time { return f.CreatedAt }), 0)
}

// Summary renders the memory as prompt context for an assistant. An empty
// memory renders as the empty string.
func (s *Store) Summary() string {
	var b strings.Builder
	var topics []string
	for t := range s.TopTopics(summaryItems) {
		topics = append(topics, fmt.Sprintf("%s (%d)", t.Name, t.Mentions))
	}
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Topics of interest: %s\n", strings.Join(topics, ", "))
	}

	prefs := s.Snapshot().Preferences
	if len(prefs) > 0 {
		var pairs []string
		for _, k := range slices.Sorted(maps.Keys(prefs)) {
			pairs = append(pairs, k+"="+prefs[k].Value)
		}
		fmt.Fprintf(&b, "Preferences: %s\n", strings.Join(pairs, ", "))
	}

	first := true
	for f := range store.Query(func() []Fact { return s.Snapshot().Facts }, nil,
		store.Latest(func(f Fact) time.Time { return f.CreatedAt }), summaryItems) {
		if first {
			b.WriteString("Known facts:\n")
			first = false
		}
		fmt.Fprintf(&b, "- %s\n", f.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
