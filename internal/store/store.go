// Package store holds the reactive snapshot store shared by every domain
// package. A Store owns one immutable snapshot, applies mutations one at a
// time, writes the encoded snapshot to its bound slot key after every change
// and notifies subscribers.
package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/codec"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/security"
)

// Load outcomes reported by Store.LoadReason.
const (
	LoadOK      = "ok"
	LoadAbsent  = "absent"
	LoadCorrupt = "corrupt"
	LoadError   = "error"
)

type snapshot[S any] struct {
	value    S
	revision uint64
}

// Store holds the current snapshot of one persisted collection.
type Store[S any] struct {
	name    string
	codec   *codec.Codec[S]
	binding *registryslot.Binding
	clock   Clock

	mu      sync.Mutex
	current atomic.Pointer[snapshot[S]]

	initOnce   sync.Once
	loadReason string
	saveErr    error
	// detached stores never write their key: the stored payload could not be
	// read, so saving the in-memory snapshot would overwrite it.
	detached bool

	// pubMu is taken before mu is released so snapshots reach subscribers in
	// revision order.
	pubMu   sync.Mutex
	subMu   sync.Mutex
	subs    map[int]func(S)
	nextSub int

	taskMu sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// Option configures a Store.
type Option func(*options)

type options struct {
	binding *registryslot.Binding
	clock   Clock
}

// WithBinding persists the store under the reserved slot key. Without a
// binding the store lives in memory only.
func WithBinding(b *registryslot.Binding) Option {
	return func(o *options) { o.binding = b }
}

// WithClock overrides the system clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// New returns a store named name that encodes snapshots with c. The store
// starts at the codec's default snapshot until Init loads the stored one.
func New[S any](name string, c *codec.Codec[S], opts ...Option) *Store[S] {
	o := options{clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[S]{
		name:    name,
		codec:   c,
		binding: o.binding,
		clock:   o.clock,
		subs:    map[int]func(S){},
		tasks:   map[*Task]struct{}{},
	}
	s.current.Store(&snapshot[S]{value: c.Defaults()})
	return s
}

// Name returns the store name, which is also its slot key suffix.
func (s *Store[S]) Name() string { return s.name }

// Clock returns the clock used for entity timestamps.
func (s *Store[S]) Clock() Clock { return s.clock }

// Init loads the stored snapshot once. Missing, corrupt or unreadable data
// leaves the default snapshot in place; the failure is logged and counted but
// never returned. When the slot itself fails the store detaches and keeps its
// state in memory only.
func (s *Store[S]) Init(ctx context.Context) {
	s.initOnce.Do(func() { s.load(ctx) })
}

func (s *Store[S]) load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binding == nil {
		s.loadReason = LoadAbsent
		return
	}
	key := s.binding.Key()
	raw, ok, err := s.binding.Load(ctx)
	if err != nil {
		log.Warn("Store load failed, using defaults in memory only", "store", s.name, "key", key, "err", err)
		security.CountLoadFallback(s.name, LoadError)
		s.loadReason = LoadError
		s.detached = true
		return
	}
	if !ok {
		log.Debug("Store has no saved state", "store", s.name, "key", key)
		security.CountLoadFallback(s.name, LoadAbsent)
		s.loadReason = LoadAbsent
		return
	}
	res := s.codec.Decode(raw)
	value, err := res.Get()
	if err != nil {
		log.Warn("Store data unreadable, using defaults", "store", s.name, "key", key, "err", err)
		security.CountLoadFallback(s.name, LoadCorrupt)
		s.loadReason = LoadCorrupt
		return
	}
	if res.Dropped > 0 {
		log.Warn("Dropped unreadable records", "store", s.name, "key", key, "dropped", res.Dropped)
		security.CountDroppedRecords(s.name, res.Dropped)
	}
	s.current.Store(&snapshot[S]{value: value})
	s.loadReason = LoadOK

	if res.FromVersion < s.codec.Version() {
		log.Info("Upgrading stored payload", "store", s.name, "key", key, "from", res.FromVersion, "to", s.codec.Version())
		s.persist(ctx, value)
	}
}

// LoadReason reports how Init ended: ok, absent, corrupt or error.
func (s *Store[S]) LoadReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadReason
}

// Detached reports whether the store keeps its state in memory only.
func (s *Store[S]) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// Detach stops all further saves.
func (s *Store[S]) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Snapshot returns the current value. Callers must treat it as read-only.
func (s *Store[S]) Snapshot() S {
	return s.current.Load().value
}

// Revision counts applied mutations since the store was loaded.
func (s *Store[S]) Revision() uint64 {
	return s.current.Load().revision
}

// View returns the current value together with its revision.
func (s *Store[S]) View() (S, uint64) {
	cur := s.current.Load()
	return cur.value, cur.revision
}

// Update applies op to the current snapshot. op must not modify its argument;
// it returns the next snapshot and whether anything changed. Mutations are
// applied one at a time in call order. A changed snapshot is saved and
// published to subscribers before Update returns.
func (s *Store[S]) Update(ctx context.Context, op func(S) (S, bool)) bool {
	s.Init(ctx)

	s.mu.Lock()
	cur := s.current.Load()
	next, changed := op(cur.value)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.current.Store(&snapshot[S]{value: next, revision: cur.revision + 1})
	s.persist(ctx, next)
	s.pubMu.Lock()
	s.mu.Unlock()

	s.publish(next)
	s.pubMu.Unlock()
	return true
}

// Reset replaces the snapshot with the defaults and saves them.
func (s *Store[S]) Reset(ctx context.Context) {
	s.Update(ctx, func(S) (S, bool) { return s.codec.Defaults(), true })
}

// SaveErr returns the error of the most recent save, or nil.
func (s *Store[S]) SaveErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

// persist must be called with s.mu held. Saves outlive the caller's context
// so a finished request does not leave the slot behind the snapshot.
func (s *Store[S]) persist(ctx context.Context, value S) {
	if s.binding == nil || s.detached {
		return
	}
	raw, err := s.codec.Encode(value)
	if err == nil {
		err = s.binding.Save(context.WithoutCancel(ctx), raw)
	}
	s.saveErr = err
	if err != nil {
		log.Warn("Store save failed, keeping state in memory", "store", s.name, "key", s.binding.Key(), "err", err)
		security.CountSaveFailure(s.name)
	}
}

// Subscribe registers fn to receive every new snapshot, in revision order. fn
// runs on the updating goroutine and must not call Update. The returned
// function removes the subscription.
func (s *Store[S]) Subscribe(fn func(S)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store[S]) publish(value S) {
	s.subMu.Lock()
	fns := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

// Close stops every scheduled task and releases the slot key.
func (s *Store[S]) Close() {
	s.taskMu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = map[*Task]struct{}{}
	s.taskMu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	if s.binding != nil {
		s.binding.Release()
	}
}
