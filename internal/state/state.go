// Package state opens the eight stores of a user on first use and owns them
// until shutdown.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/contextmemory"
	"github.com/chirino/assistant-state/internal/conversations"
	"github.com/chirino/assistant-state/internal/insights"
	"github.com/chirino/assistant-state/internal/offline"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/reminders"
	"github.com/chirino/assistant-state/internal/seed"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/chirino/assistant-state/internal/voicecommands"
	"github.com/chirino/assistant-state/internal/workflows"
	"github.com/chirino/assistant-state/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Manager.Open after Close.
var ErrClosed = errors.New("state manager closed")

// Keys lists the store keys of a user's set in a fixed order.
var Keys = []string{
	contextmemory.Key,
	insights.Key,
	conversations.Key,
	offline.Key,
	reminders.Key,
	workspace.Key,
	voicecommands.Key,
	workflows.Key,
}

type Options struct {
	Slot     registryslot.Slot
	Prefix   string
	Notifier registrynotify.Notifier
	Seed     seed.File
	Client   *http.Client
	Clock    store.Clock

	WebhookTimeout       time.Duration
	MaxDelay             time.Duration
	ReminderPollInterval time.Duration
}

// Manager hands out the store set of each user. Sets are opened lazily and
// kept until Close.
type Manager struct {
	opts Options
	ns   *registryslot.Namespace

	mu     sync.Mutex
	sets   map[string]*pending
	closed bool
}

type pending struct {
	once sync.Once
	set  *Set
	err  error
}

func NewManager(opts Options) *Manager {
	if opts.Notifier == nil {
		opts.Notifier = registrynotify.Discard{}
	}
	if opts.Prefix == "" {
		opts.Prefix = "assistant"
	}
	return &Manager{
		opts: opts,
		ns:   registryslot.NewNamespace(opts.Slot),
		sets: map[string]*pending{},
	}
}

// Open returns the store set of userID, loading it on first use. A set whose
// slot could not be read is returned detached and is not kept, so the next
// Open reads the slot again.
func (m *Manager) Open(ctx context.Context, userID string) (*Set, error) {
	if userID == "" {
		return nil, &store.ValidationError{Field: "user", Message: "must not be empty"}
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	p, ok := m.sets[userID]
	if !ok {
		p = &pending{}
		m.sets[userID] = p
	}
	m.mu.Unlock()

	p.once.Do(func() {
		p.set, p.err = m.open(ctx, userID)
		if p.err != nil || p.set.Degraded() {
			m.mu.Lock()
			if m.sets[userID] == p {
				delete(m.sets, userID)
			}
			m.mu.Unlock()
		}
	})
	return p.set, p.err
}

// Users lists users with an open set.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets))
	for u, p := range m.sets {
		if p.set != nil {
			out = append(out, u)
		}
	}
	return out
}

// Close stops every scheduled task and releases every store. Open fails
// afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sets := m.sets
	m.sets = map[string]*pending{}
	m.mu.Unlock()

	for _, p := range sets {
		if p.set != nil {
			p.set.Close()
		}
	}
}

func (m *Manager) open(ctx context.Context, userID string) (*Set, error) {
	bindings := make(map[string]*registryslot.Binding, len(Keys))
	release := func() {
		for _, b := range bindings {
			b.Release()
		}
	}
	for _, k := range Keys {
		b, err := m.ns.Bind(registryslot.Key(m.opts.Prefix, userID, k))
		if err != nil {
			release()
			return nil, fmt.Errorf("open state of %s: %w", userID, err)
		}
		bindings[k] = b
	}
	opts := func(k string) []store.Option {
		o := []store.Option{store.WithBinding(bindings[k])}
		if m.opts.Clock != nil {
			o = append(o, store.WithClock(m.opts.Clock))
		}
		return o
	}

	s := &Set{
		UserID:    userID,
		Context:   contextmemory.New(opts(contextmemory.Key)...),
		Insights:  insights.New(opts(insights.Key)...),
		Sessions:  conversations.New(opts(conversations.Key)...),
		Offline:   offline.New(opts(offline.Key)...),
		Reminders: reminders.New(opts(reminders.Key)...),
		Workspace: workspace.New(userID, opts(workspace.Key)...),
		Commands:  voicecommands.New(opts(voicecommands.Key)...),
		Workflows: workflows.New(&workflows.Runner{
			Client:         m.opts.Client,
			WebhookTimeout: m.opts.WebhookTimeout,
			MaxDelay:       m.opts.MaxDelay,
			Notifier:       m.opts.Notifier,
			UserID:         userID,
		}, opts(workflows.Key)...),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range s.Entries() {
		g.Go(func() error {
			e.init(gctx)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		s.Close()
		return nil, fmt.Errorf("open state of %s: %w", userID, err)
	}
	if s.Degraded() {
		for _, e := range s.Entries() {
			e.detach()
		}
		s.Close()
		log.Warn("State unreadable, serving this request from memory", "user", userID)
		return s, nil
	}

	var commands *voicecommands.Store
	if s.Commands.LoadReason() == store.LoadAbsent {
		commands = s.Commands
	}
	var flows *workflows.Store
	if s.Workflows.LoadReason() == store.LoadAbsent {
		flows = s.Workflows
	}
	if err := m.opts.Seed.Apply(ctx, commands, flows); err != nil {
		log.Warn("Seeding defaults failed", "user", userID, "err", err)
	}

	if m.opts.ReminderPollInterval > 0 {
		s.Reminders.StartPolling(m.opts.ReminderPollInterval, m.opts.Notifier, userID)
	}

	reasons := make([]any, 0, 2*len(Keys)+2)
	reasons = append(reasons, "user", userID)
	for _, e := range s.Entries() {
		reasons = append(reasons, e.Name, e.LoadReason())
	}
	log.Info("State opened", reasons...)
	return s, nil
}

// Set is the store set of one user.
type Set struct {
	UserID    string
	Context   *contextmemory.Store
	Insights  *insights.Store
	Sessions  *conversations.Store
	Offline   *offline.Store
	Reminders *reminders.Store
	Workspace *workspace.Store
	Commands  *voicecommands.Store
	Workflows *workflows.Store
}

// Degraded reports whether any store of the set failed to read its slot.
func (s *Set) Degraded() bool {
	for _, e := range s.Entries() {
		if e.LoadReason() == store.LoadError {
			return true
		}
	}
	return false
}

// Close stops the set's tasks and releases its keys.
func (s *Set) Close() {
	for _, e := range s.Entries() {
		e.close()
	}
}

// Entry is the type-erased view of one store used by the generic state
// routes.
type Entry struct {
	Name       string
	View       func() (any, uint64)
	Reset      func(ctx context.Context)
	LoadReason func() string

	init   func(ctx context.Context)
	detach func()
	close  func()
}

func entry[S any](s *store.Store[S]) Entry {
	return Entry{
		Name: s.Name(),
		View: func() (any, uint64) {
			v, rev := s.View()
			return v, rev
		},
		Reset:      s.Reset,
		LoadReason: s.LoadReason,
		init:       s.Init,
		detach:     s.Detach,
		close:      s.Close,
	}
}

// Entries lists the set's stores in Keys order.
func (s *Set) Entries() []Entry {
	return []Entry{
		entry(s.Context.Store),
		entry(s.Insights.Store),
		entry(s.Sessions.Store),
		entry(s.Offline.Store),
		entry(s.Reminders.Store),
		entry(s.Workspace.Store),
		entry(s.Commands.Store),
		entry(s.Workflows.Store),
	}
}

// Entry finds a store by key.
func (s *Set) Entry(name string) (Entry, bool) {
	for _, e := range s.Entries() {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
