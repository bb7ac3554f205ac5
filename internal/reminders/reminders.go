// Package reminders stores time based reminders and fires them when due.
package reminders

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/codec"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the reminder store.
const Key = "smart-reminders"

// MaxLead bounds how far ahead a relative reminder or a snooze may reach.
const MaxLead = 10 * 365 * 24 * time.Hour

type Recurrence string

const (
	None   Recurrence = "none"
	Daily  Recurrence = "daily"
	Weekly Recurrence = "weekly"
)

func (r Recurrence) Valid() bool {
	return r == None || r == Daily || r == Weekly
}

type Priority string

const (
	Low    Priority = "low"
	Medium Priority = "medium"
	High   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == Low || p == Medium || p == High
}

// vibration is the pattern sent with reminder notifications.
var vibration = []int{200, 100, 200}

type Reminder struct {
	store.Meta
	Text        string     `json:"text"`
	TriggerAt   time.Time  `json:"triggerAt"`
	Recurrence  Recurrence `json:"recurrence"`
	Priority    Priority   `json:"priority"`
	Completed   bool       `json:"completed"`
	Notified    bool       `json:"notified"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (r Reminder) Validate() error {
	if err := r.Meta.Validate(); err != nil {
		return err
	}
	if r.TriggerAt.IsZero() {
		return errors.New("missing triggerAt")
	}
	return nil
}

type State struct {
	Reminders []Reminder `json:"reminders"`
}

func Defaults() State {
	return State{Reminders: []Reminder{}}
}

// Codec upgrades the original bare array payload.
var Codec = codec.MustNew(1, Defaults,
	codec.Migration{From: 0, Query: `if type == "array" then {reminders: .} else . end`},
)

type Store struct {
	*store.Store[State]
}

func New(opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...)}
}

// Patch holds the fields changed by Update. Nil fields are left alone.
type Patch struct {
	Text       *string     `json:"text,omitempty"`
	TriggerAt  *time.Time  `json:"triggerAt,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
	Priority   *Priority   `json:"priority,omitempty"`
}

func validate(d Draft) error {
	if strings.TrimSpace(d.Text) == "" {
		return &store.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if d.TriggerAt.IsZero() {
		return &store.ValidationError{Field: "triggerAt", Message: "is required"}
	}
	if d.Recurrence != "" && !d.Recurrence.Valid() {
		return &store.ValidationError{Field: "recurrence", Message: "must be none, daily or weekly"}
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return &store.ValidationError{Field: "priority", Message: "must be low, medium or high"}
	}
	return nil
}

// Create stores a reminder built from d.
func (s *Store) Create(ctx context.Context, d Draft) (Reminder, error) {
	if err := validate(d); err != nil {
		return Reminder{}, err
	}
	if d.Recurrence == "" {
		d.Recurrence = None
	}
	if d.Priority == "" {
		d.Priority = Medium
	}
	var created Reminder
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Reminders, created = store.Create(st.Reminders, Reminder{
			Text:       strings.TrimSpace(d.Text),
			TriggerAt:  store.Normalize(d.TriggerAt),
			Recurrence: d.Recurrence,
			Priority:   d.Priority,
		}, s.Clock().Now())
		return st, true
	})
	return created, nil
}

// CreateFromText parses input at the current time and stores the result.
func (s *Store) CreateFromText(ctx context.Context, input string, loc *time.Location) (Reminder, bool) {
	now := s.Clock().Now()
	if loc != nil {
		now = now.In(loc)
	}
	d, ok := Parse(input, now)
	if !ok {
		return Reminder{}, false
	}
	r, err := s.Create(ctx, d)
	return r, err == nil
}

// Update applies p to the reminder with id. Moving the trigger time re-arms a
// reminder that already fired.
func (s *Store) Update(ctx context.Context, id string, p Patch) (bool, error) {
	if p.Text != nil && strings.TrimSpace(*p.Text) == "" {
		return false, &store.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if p.Recurrence != nil && !p.Recurrence.Valid() {
		return false, &store.ValidationError{Field: "recurrence", Message: "must be none, daily or weekly"}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return false, &store.ValidationError{Field: "priority", Message: "must be low, medium or high"}
	}
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Reminders, found = store.Update(st.Reminders, id, s.Clock().Now(), func(r *Reminder) {
			if p.Text != nil {
				r.Text = strings.TrimSpace(*p.Text)
			}
			if p.TriggerAt != nil {
				r.TriggerAt = store.Normalize(*p.TriggerAt)
				r.Notified = false
			}
			if p.Recurrence != nil {
				r.Recurrence = *p.Recurrence
			}
			if p.Priority != nil {
				r.Priority = *p.Priority
			}
		})
		return st, found
	})
	return found, nil
}

// Complete marks the reminder done.
func (s *Store) Complete(ctx context.Context, id string) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		st.Reminders, found = store.Update(st.Reminders, id, now, func(r *Reminder) {
			r.Completed = true
			r.CompletedAt = &now
		})
		return st, found
	})
	return found
}

// Snooze moves the trigger time to d from now and re-arms the reminder.
func (s *Store) Snooze(ctx context.Context, id string, d time.Duration) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		st.Reminders, found = store.Update(st.Reminders, id, now, func(r *Reminder) {
			r.TriggerAt = store.Normalize(now.Add(d))
			r.Notified = false
			r.Completed = false
			r.CompletedAt = nil
		})
		return st, found
	})
	return found
}

// Delete removes the reminder. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) bool {
	var removed bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Reminders, removed = store.Remove(st.Reminders, id)
		return st, removed
	})
	return removed
}

// CheckDue fires every armed reminder whose trigger time has passed. One-off
// reminders are marked notified; recurring ones move to their next occurrence
// after now. The fired reminders are returned as they were before the check.
func (s *Store) CheckDue(ctx context.Context, now time.Time) []Reminder {
	var fired []Reminder
	s.Store.Update(ctx, func(st State) (State, bool) {
		fired = nil
		var next []Reminder
		for i, r := range st.Reminders {
			if r.Completed || r.Notified || r.TriggerAt.After(now) {
				continue
			}
			if next == nil {
				next = store.Append(st.Reminders)
			}
			fired = append(fired, r)
			switch r.Recurrence {
			case Daily, Weekly:
				next[i].TriggerAt = following(r.TriggerAt, r.Recurrence, now)
			default:
				next[i].Notified = true
			}
			next[i].UpdatedAt = store.Touch(r.UpdatedAt, store.Normalize(now))
		}
		if next == nil {
			return st, false
		}
		st.Reminders = next
		return st, true
	})
	security.CountRemindersFired(len(fired))
	return fired
}

func following(t time.Time, r Recurrence, now time.Time) time.Time {
	days := 1
	if r == Weekly {
		days = 7
	}
	for !t.After(now) {
		t = t.AddDate(0, 0, days)
	}
	return t
}

// StartPolling checks for due reminders every interval and notifies userID
// about each one. Stop the returned task, or close the store, to end it.
func (s *Store) StartPolling(interval time.Duration, n registrynotify.Notifier, userID string) *store.Task {
	return s.Schedule(interval, func(ctx context.Context) {
		fired := s.CheckDue(ctx, s.Clock().Now())
		for _, r := range fired {
			log.Debug("Reminder due", "user", userID, "id", r.ID)
			n.Notify(ctx, registrynotify.Notification{
				UserID:  userID,
				Title:   "Reminder",
				Body:    r.Text,
				Tag:     "reminder-" + r.ID,
				Vibrate: vibration,
				SentAt:  s.Clock().Now(),
			})
		}
	})
}

func (s *Store) Get(id string) (Reminder, bool) {
	return store.Find(s.Snapshot().Reminders, id)
}

func (s *Store) source() func() []Reminder {
	return func() []Reminder { return s.Snapshot().Reminders }
}

func byTrigger(r Reminder) time.Time { return r.TriggerAt }

// All lists reminders in trigger order.
func (s *Store) All() iter.Seq[Reminder] {
	return store.Query(s.source(), nil, store.Earliest(byTrigger), 0)
}

// Upcoming lists up to n open reminders due after now, soonest first.
func (s *Store) Upcoming(now time.Time, n int) iter.Seq[Reminder] {
	return store.Query(s.source(), func(r Reminder) bool {
		return !r.Completed && r.TriggerAt.After(now)
	}, store.Earliest(byTrigger), n)
}

// Overdue lists open reminders whose trigger time has passed, oldest first.
func (s *Store) Overdue(now time.Time) iter.Seq[Reminder] {
	return store.Query(s.source(), func(r Reminder) bool {
		return !r.Completed && !r.TriggerAt.After(now)
	}, store.Earliest(byTrigger), 0)
}
