// Package voicecommands stores user defined phrases and what they trigger.
package voicecommands

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/match"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the command store.
const Key = "custom-voice-commands"

type Action string

const (
	Respond     Action = "respond"
	OpenURL     Action = "open_url"
	RunWorkflow Action = "run_workflow"
	SetReminder Action = "set_reminder"
)

func (a Action) Valid() bool {
	switch a {
	case Respond, OpenURL, RunWorkflow, SetReminder:
		return true
	}
	return false
}

type Command struct {
	store.Meta
	Phrase     string     `json:"phrase"`
	Action     Action     `json:"action"`
	Response   string     `json:"response,omitempty"`
	Target     string     `json:"target,omitempty"`
	Enabled    bool       `json:"enabled"`
	UsageCount int        `json:"usageCount"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
}

type State struct {
	Commands []Command `json:"commands"`
}

func Defaults() State {
	return State{Commands: []Command{}}
}

var Codec = codec.MustNew(1, Defaults,
	codec.Migration{From: 0, Query: `if type == "array" then {commands: .} else . end`},
)

type Store struct {
	*store.Store[State]
}

func New(opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...)}
}

// Input describes a new command. Enabled defaults to true.
type Input struct {
	Phrase   string `json:"phrase" yaml:"phrase"`
	Action   Action `json:"action" yaml:"action"`
	Response string `json:"response,omitempty" yaml:"response,omitempty"`
	Target   string `json:"target,omitempty" yaml:"target,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Phrase) == "" {
		return &store.ValidationError{Field: "phrase", Message: "must not be empty"}
	}
	if !in.Action.Valid() {
		return &store.ValidationError{Field: "action", Message: "must be respond, open_url, run_workflow or set_reminder"}
	}
	return nil
}

func (in Input) command() Command {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return Command{
		Phrase:   strings.TrimSpace(in.Phrase),
		Action:   in.Action,
		Response: in.Response,
		Target:   in.Target,
		Enabled:  enabled,
	}
}

// Add appends a command. Commands are matched in the order they were added.
func (s *Store) Add(ctx context.Context, in Input) (Command, error) {
	if err := in.validate(); err != nil {
		return Command{}, err
	}
	var created Command
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Commands, created = store.Create(st.Commands, in.command(), s.Clock().Now())
		return st, true
	})
	return created, nil
}

// Seed adds defaults to an empty collection. It reports whether anything
// was added.
func (s *Store) Seed(ctx context.Context, defaults []Input) (bool, error) {
	for _, in := range defaults {
		if err := in.validate(); err != nil {
			return false, err
		}
	}
	return s.Store.Update(ctx, func(st State) (State, bool) {
		if len(st.Commands) > 0 || len(defaults) == 0 {
			return st, false
		}
		now := s.Clock().Now()
		for _, in := range defaults {
			st.Commands, _ = store.Create(st.Commands, in.command(), now)
		}
		return st, true
	}), nil
}

// Patch holds the fields changed by Update.
type Patch struct {
	Phrase   *string `json:"phrase,omitempty"`
	Action   *Action `json:"action,omitempty"`
	Response *string `json:"response,omitempty"`
	Target   *string `json:"target,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

func (s *Store) Update(ctx context.Context, id string, p Patch) (bool, error) {
	if p.Phrase != nil && strings.TrimSpace(*p.Phrase) == "" {
		return false, &store.ValidationError{Field: "phrase", Message: "must not be empty"}
	}
	if p.Action != nil && !p.Action.Valid() {
		return false, &store.ValidationError{Field: "action", Message: "must be respond, open_url, run_workflow or set_reminder"}
	}
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Commands, found = store.Update(st.Commands, id, s.Clock().Now(), func(c *Command) {
			if p.Phrase != nil {
				c.Phrase = strings.TrimSpace(*p.Phrase)
			}
			if p.Action != nil {
				c.Action = *p.Action
			}
			if p.Response != nil {
				c.Response = *p.Response
			}
			if p.Target != nil {
				c.Target = *p.Target
			}
			if p.Enabled != nil {
				c.Enabled = *p.Enabled
			}
		})
		return st, found
	})
	return found, nil
}

func (s *Store) Remove(ctx context.Context, id string) bool {
	var removed bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Commands, removed = store.Remove(st.Commands, id)
		return st, removed
	})
	return removed
}

// Toggle flips the enabled flag.
func (s *Store) Toggle(ctx context.Context, id string) (Command, bool) {
	var (
		found bool
		out   Command
	)
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Commands, found = store.Update(st.Commands, id, s.Clock().Now(), func(c *Command) {
			c.Enabled = !c.Enabled
			out = *c
		})
		return st, found
	})
	return out, found
}

// Match returns the first enabled command whose phrase occurs in text and
// counts the use. Later commands are not considered once one matches.
func (s *Store) Match(ctx context.Context, text string) (Command, bool) {
	var (
		hit Command
		ok  bool
	)
	s.Store.Update(ctx, func(st State) (State, bool) {
		i, found := match.First(st.Commands, func(c Command) bool {
			return c.Enabled && match.Contains(text, c.Phrase)
		})
		if !found {
			ok = false
			return st, false
		}
		now := s.Clock().Now()
		st.Commands, ok = store.Update(st.Commands, st.Commands[i].ID, now, func(c *Command) {
			c.UsageCount++
			c.LastUsed = &now
			hit = *c
		})
		return st, ok
	})
	return hit, ok
}

// Clear removes every command.
func (s *Store) Clear(ctx context.Context) {
	s.Reset(ctx)
}

func (s *Store) Get(id string) (Command, bool) {
	return store.Find(s.Snapshot().Commands, id)
}

func (s *Store) source() func() []Command {
	return func() []Command { return s.Snapshot().Commands }
}

// All lists commands in match order.
func (s *Store) All() iter.Seq[Command] {
	return store.Query(s.source(), nil, nil, 0)
}

// MostUsed lists up to n commands by usage count. Equal counts keep match
// order.
func (s *Store) MostUsed(n int) iter.Seq[Command] {
	return store.Query(s.source(), nil, store.Descending(func(c Command) int { return c.UsageCount }), n)
}

// Enabled lists the enabled commands in match order.
func (s *Store) Enabled() iter.Seq[Command] {
	return store.Query(s.source(), func(c Command) bool { return c.Enabled }, nil, 0)
}
