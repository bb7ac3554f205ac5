// Package workflows stores phrase triggered workflows and runs their actions.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/match"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the workflow store.
const Key = "workflow-triggers"

// MaxHistory bounds the execution history.
const MaxHistory = 50

type ActionType string

const (
	Webhook ActionType = "webhook"
	Notify  ActionType = "notify"
	Respond ActionType = "respond"
	Delay   ActionType = "delay"
)

type Action struct {
	Type    ActionType `json:"type" yaml:"type"`
	URL     string     `json:"url,omitempty" yaml:"url,omitempty"`
	Method  string     `json:"method,omitempty" yaml:"method,omitempty"`
	Payload string     `json:"payload,omitempty" yaml:"payload,omitempty"`
	Message string     `json:"message,omitempty" yaml:"message,omitempty"`
	DelayMS int        `json:"delayMs,omitempty" yaml:"delayMs,omitempty"`
}

func (a Action) validate(i int) error {
	field := fmt.Sprintf("actions[%d]", i)
	switch a.Type {
	case Webhook:
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &store.ValidationError{Field: field + ".url", Message: "must be an http or https URL"}
		}
	case Notify, Respond:
		if strings.TrimSpace(a.Message) == "" {
			return &store.ValidationError{Field: field + ".message", Message: "must not be empty"}
		}
	case Delay:
		if a.DelayMS < 0 {
			return &store.ValidationError{Field: field + ".delayMs", Message: "must not be negative"}
		}
	default:
		return &store.ValidationError{Field: field + ".type", Message: "must be webhook, notify, respond or delay"}
	}
	return nil
}

type Trigger struct {
	store.Meta
	Name           string     `json:"name"`
	Phrases        []string   `json:"phrases"`
	Actions        []Action   `json:"actions"`
	Enabled        bool       `json:"enabled"`
	ExecutionCount int        `json:"executionCount"`
	LastTriggered  *time.Time `json:"lastTriggered,omitempty"`
}

// Matches reports whether any phrase occurs in text.
func (t Trigger) Matches(text string) bool {
	return slices.ContainsFunc(t.Phrases, func(p string) bool { return match.Contains(text, p) })
}

type ActionResult struct {
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Status  int        `json:"status,omitempty"`
	Output  string     `json:"output,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type Execution struct {
	ID          string         `json:"id"`
	TriggerID   string         `json:"triggerId"`
	TriggerName string         `json:"triggerName"`
	Input       string         `json:"input"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
	Success     bool           `json:"success"`
	Results     []ActionResult `json:"results"`
	Error       string         `json:"error,omitempty"`
}

func (e Execution) Validate() error {
	if e.ID == "" || e.StartedAt.IsZero() {
		return errors.New("execution without id or start time")
	}
	return nil
}

// Responses returns the output of the respond actions that ran.
func (e Execution) Responses() []string {
	var out []string
	for _, r := range e.Results {
		if r.Type == Respond && r.Success {
			out = append(out, r.Output)
		}
	}
	return out
}

type State struct {
	Triggers []Trigger   `json:"triggers"`
	History  []Execution `json:"history"`
}

func Defaults() State {
	return State{Triggers: []Trigger{}, History: []Execution{}}
}

var Codec = codec.MustNew(1, Defaults,
	codec.Migration{From: 0, Query: `if type == "array" then {triggers: ., history: []} else . end`},
)

type Store struct {
	*store.Store[State]
	runner *Runner
}

// New returns a workflow store that executes actions with r.
func New(r *Runner, opts ...store.Option) *Store {
	if r == nil {
		r = &Runner{}
	}
	return &Store{Store: store.New(Key, Codec, opts...), runner: r}
}

// Input describes a new trigger. Enabled defaults to true.
type Input struct {
	Name    string   `json:"name" yaml:"name"`
	Phrases []string `json:"phrases" yaml:"phrases"`
	Actions []Action `json:"actions" yaml:"actions"`
	Enabled *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func cleanPhrases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateActions(actions []Action) error {
	for i, a := range actions {
		if err := a.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &store.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(cleanPhrases(in.Phrases)) == 0 {
		return &store.ValidationError{Field: "phrases", Message: "needs at least one phrase"}
	}
	return validateActions(in.Actions)
}

func (in Input) trigger() Trigger {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	actions := slices.Clone(in.Actions)
	if actions == nil {
		actions = []Action{}
	}
	return Trigger{
		Name:    strings.TrimSpace(in.Name),
		Phrases: cleanPhrases(in.Phrases),
		Actions: actions,
		Enabled: enabled,
	}
}

// Add appends a trigger. Triggers are evaluated in the order they were added.
func (s *Store) Add(ctx context.Context, in Input) (Trigger, error) {
	if err := in.validate(); err != nil {
		return Trigger{}, err
	}
	var created Trigger
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Triggers, created = store.Create(st.Triggers, in.trigger(), s.Clock().Now())
		return st, true
	})
	return created, nil
}

// Seed adds defaults to an empty trigger list.
func (s *Store) Seed(ctx context.Context, defaults []Input) (bool, error) {
	for _, in := range defaults {
		if err := in.validate(); err != nil {
			return false, err
		}
	}
	return s.Store.Update(ctx, func(st State) (State, bool) {
		if len(st.Triggers) > 0 || len(defaults) == 0 {
			return st, false
		}
		now := s.Clock().Now()
		for _, in := range defaults {
			st.Triggers, _ = store.Create(st.Triggers, in.trigger(), now)
		}
		return st, true
	}), nil
}

// Patch holds the fields changed by Update.
type Patch struct {
	Name    *string   `json:"name,omitempty"`
	Phrases *[]string `json:"phrases,omitempty"`
	Actions *[]Action `json:"actions,omitempty"`
	Enabled *bool     `json:"enabled,omitempty"`
}

func (s *Store) Update(ctx context.Context, id string, p Patch) (bool, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return false, &store.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if p.Phrases != nil && len(cleanPhrases(*p.Phrases)) == 0 {
		return false, &store.ValidationError{Field: "phrases", Message: "needs at least one phrase"}
	}
	if p.Actions != nil {
		if err := validateActions(*p.Actions); err != nil {
			return false, err
		}
	}
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Triggers, found = store.Update(st.Triggers, id, s.Clock().Now(), func(t *Trigger) {
			if p.Name != nil {
				t.Name = strings.TrimSpace(*p.Name)
			}
			if p.Phrases != nil {
				t.Phrases = cleanPhrases(*p.Phrases)
			}
			if p.Actions != nil {
				t.Actions = slices.Clone(*p.Actions)
			}
			if p.Enabled != nil {
				t.Enabled = *p.Enabled
			}
		})
		return st, found
	})
	return found, nil
}

func (s *Store) Remove(ctx context.Context, id string) bool {
	var removed bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Triggers, removed = store.Remove(st.Triggers, id)
		return st, removed
	})
	return removed
}

func (s *Store) Toggle(ctx context.Context, id string) (Trigger, bool) {
	var (
		found bool
		out   Trigger
	)
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Triggers, found = store.Update(st.Triggers, id, s.Clock().Now(), func(t *Trigger) {
			t.Enabled = !t.Enabled
			out = *t
		})
		return st, found
	})
	return out, found
}

// Evaluate finds the first enabled trigger with a phrase in text, counts the
// execution and runs its actions in order. Later triggers are not evaluated
// once one matches. The actions run outside the store lock; the finished
// execution is recorded in the history with a second mutation.
func (s *Store) Evaluate(ctx context.Context, text string) (Execution, bool) {
	var (
		fired   Trigger
		matched bool
	)
	s.Store.Update(ctx, func(st State) (State, bool) {
		i, ok := match.First(st.Triggers, func(t Trigger) bool {
			return t.Enabled && t.Matches(text)
		})
		if !ok {
			matched = false
			return st, false
		}
		now := s.Clock().Now()
		st.Triggers, matched = store.Update(st.Triggers, st.Triggers[i].ID, now, func(t *Trigger) {
			t.ExecutionCount++
			t.LastTriggered = &now
			fired = *t
		})
		return st, matched
	})
	if !matched {
		return Execution{}, false
	}

	exec := s.runner.run(ctx, s.Clock(), fired, text)
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.History, _ = store.Cap(store.Append(st.History, exec), MaxHistory, store.FirstIn[Execution]())
		return st, true
	})
	return exec, true
}

// Clear removes every trigger and the history.
func (s *Store) Clear(ctx context.Context) {
	s.Reset(ctx)
}

func (s *Store) Get(id string) (Trigger, bool) {
	return store.Find(s.Snapshot().Triggers, id)
}

// All lists triggers in evaluation order.
func (s *Store) All() iter.Seq[Trigger] {
	return store.Query(func() []Trigger { return s.Snapshot().Triggers }, nil, nil, 0)
}

// History lists up to n executions, most recent first.
func (s *Store) History(n int) iter.Seq[Execution] {
	return store.Query(func() []Execution {
		h := slices.Clone(s.Snapshot().History)
		slices.Reverse(h)
		return h
	}, nil, nil, n)
}

// MostTriggered lists up to n triggers by execution count. Equal counts keep
// evaluation order.
func (s *Store) MostTriggered(n int) iter.Seq[Trigger] {
	return store.Query(
		func() []Trigger { return s.Snapshot().Triggers },
		nil,
		store.Descending(func(t Trigger) int { return t.ExecutionCount }),
		n,
	)
}
