// Package offline caches responses for use without a network connection and
// queues actions taken while offline until the user syncs them.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/gobwas/glob"
)

// Key is the slot key suffix of the offline store.
const Key = "offline-cache"

const (
	MaxEntries = 100
	MaxPending = 50
	// MaxTTL is the longest lifetime a cache entry may ask for.
	MaxTTL = 365 * 24 * time.Hour
)

// ErrOffline is returned by Drain while the client reports being offline.
var ErrOffline = errors.New("client is offline")

type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Hits      int             `json:"hits"`
}

func (e Entry) Validate() error {
	if e.Key == "" || e.CachedAt.IsZero() {
		return errors.New("entry without key or cachedAt")
	}
	return nil
}

// Expired reports whether the entry's TTL has passed at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

type PendingAction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Target        string          `json:"target"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	QueuedAt      time.Time       `json:"queuedAt"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
}

func (a PendingAction) Validate() error {
	if a.ID == "" || a.QueuedAt.IsZero() {
		return errors.New("action without id or queuedAt")
	}
	return nil
}

type State struct {
	Online       bool            `json:"online"`
	Entries      []Entry         `json:"entries"`
	Pending      []PendingAction `json:"pending"`
	Hits         int             `json:"hits"`
	Misses       int             `json:"misses"`
	LastSyncedAt *time.Time      `json:"lastSyncedAt,omitempty"`
}

func Defaults() State {
	return State{Online: true, Entries: []Entry{}, Pending: []PendingAction{}}
}

var Codec = codec.MustNew(1, Defaults)

type Store struct {
	*store.Store[State]
}

func New(opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...)}
}

func entryIndex(entries []Entry, key string) int {
	return slices.IndexFunc(entries, func(e Entry) bool { return e.Key == key })
}

// Put caches value under key, replacing any previous entry. A zero ttl never
// expires. Past MaxEntries the entry cached first is evicted.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) (Entry, error) {
	if strings.TrimSpace(key) == "" {
		return Entry{}, &store.ValidationError{Field: "key", Message: "must not be empty"}
	}
	if !json.Valid(value) {
		return Entry{}, &store.ValidationError{Field: "value", Message: "must be valid JSON"}
	}
	if ttl < 0 || ttl > MaxTTL {
		return Entry{}, &store.ValidationError{Field: "ttl", Message: "must be between 0 and " + MaxTTL.String()}
	}
	var e Entry
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		e = Entry{Key: key, Value: slices.Clone(value), CachedAt: now}
		if ttl > 0 {
			exp := store.Normalize(now.Add(ttl))
			e.ExpiresAt = &exp
		}
		entries := st.Entries
		if i := entryIndex(entries, key); i >= 0 {
			entries = slices.Delete(slices.Clone(entries), i, i+1)
		}
		st.Entries, _ = store.Cap(store.Append(entries, e), MaxEntries,
			store.Oldest(func(e Entry) time.Time { return e.CachedAt }))
		return st, true
	})
	return e, nil
}

// Lookup returns the cached value for key and counts a hit or a miss. An
// expired entry is a miss and is dropped.
func (s *Store) Lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	var (
		value json.RawMessage
		hit   bool
	)
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		i := entryIndex(st.Entries, key)
		switch {
		case i < 0:
			hit = false
			st.Misses++
		case st.Entries[i].Expired(now):
			hit = false
			st.Misses++
			st.Entries = slices.Delete(slices.Clone(st.Entries), i, i+1)
		default:
			hit = true
			st.Hits++
			st.Entries = slices.Clone(st.Entries)
			st.Entries[i].Hits++
			value = st.Entries[i].Value
		}
		return st, true
	})
	return value, hit
}

// Invalidate drops every entry whose key matches the glob pattern and returns
// how many were dropped.
func (s *Store) Invalidate(ctx context.Context, pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, &store.ValidationError{Field: "pattern", Message: err.Error()}
	}
	removed := 0
	s.Store.Update(ctx, func(st State) (State, bool) {
		kept := slices.DeleteFunc(slices.Clone(st.Entries), func(e Entry) bool { return g.Match(e.Key) })
		removed = len(st.Entries) - len(kept)
		st.Entries = kept
		return st, removed > 0
	})
	return removed, nil
}

// PurgeExpired drops entries expired at now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) int {
	removed := 0
	s.Store.Update(ctx, func(st State) (State, bool) {
		kept := slices.DeleteFunc(slices.Clone(st.Entries), func(e Entry) bool { return e.Expired(now) })
		removed = len(st.Entries) - len(kept)
		st.Entries = kept
		return st, removed > 0
	})
	return removed
}

// ActionInput describes an action to replay against Target when back online.
type ActionInput struct {
	Type    string          `json:"type"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Enqueue queues an action. Past MaxPending the oldest queued action is
// dropped.
func (s *Store) Enqueue(ctx context.Context, in ActionInput) (PendingAction, error) {
	if strings.TrimSpace(in.Type) == "" {
		return PendingAction{}, &store.ValidationError{Field: "type", Message: "must not be empty"}
	}
	u, err := url.Parse(in.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return PendingAction{}, &store.ValidationError{Field: "target", Message: "must be an http or https URL"}
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return PendingAction{}, &store.ValidationError{Field: "payload", Message: "must be valid JSON"}
	}
	var a PendingAction
	s.Store.Update(ctx, func(st State) (State, bool) {
		a = PendingAction{
			ID:       store.NewID(),
			Type:     in.Type,
			Target:   in.Target,
			Payload:  slices.Clone(in.Payload),
			QueuedAt: s.Clock().Now(),
		}
		st.Pending, _ = store.Cap(store.Append(st.Pending, a), MaxPending,
			store.Oldest(func(a PendingAction) time.Time { return a.QueuedAt }))
		return st, true
	})
	return a, nil
}

// SetOnline records the client's connectivity.
func (s *Store) SetOnline(ctx context.Context, online bool) {
	s.Store.Update(ctx, func(st State) (State, bool) {
		if st.Online == online {
			return st, false
		}
		st.Online = online
		return st, true
	})
}

// Entries lists cached entries, most recently cached first.
func (s *Store) Entries() iter.Seq[Entry] {
	return store.Query(func() []Entry { return s.Snapshot().Entries }, nil,
		store.Latest(func(e Entry) time.Time { return e.CachedAt }), 0)
}

// Stats summarizes the cache and the queue.
type Stats struct {
	Online       bool       `json:"online"`
	Entries      int        `json:"entries"`
	Expired      int        `json:"expired"`
	Pending      int        `json:"pending"`
	Failing      int        `json:"failing"`
	Hits         int        `json:"hits"`
	Misses       int        `json:"misses"`
	HitRate      int        `json:"hitRate"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

func (s *Store) Stats(now time.Time) Stats {
	st := s.Snapshot()
	out := Stats{
		Online:       st.Online,
		Entries:      len(st.Entries),
		Pending:      len(st.Pending),
		Hits:         st.Hits,
		Misses:       st.Misses,
		LastSyncedAt: st.LastSyncedAt,
	}
	for _, e := range st.Entries {
		if e.Expired(now) {
			out.Expired++
		}
	}
	for _, a := range st.Pending {
		if a.Attempts > 0 {
			out.Failing++
		}
	}
	if total := st.Hits + st.Misses; total > 0 {
		out.HitRate = (st.Hits*100 + total/2) / total
	}
	return out
}
