// Package conversations keeps the user's recent chat sessions.
package conversations

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/match"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the session store.
const Key = "conversation-sessions"

const (
	MaxSessions = 10
	MaxMessages = 100
	// DefaultTitle marks a session that takes its title from the first user message.
	DefaultTitle = "New conversation"
	titleLength  = 50
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	store.Meta
	Title     string    `json:"title"`
	PersonaID string    `json:"personaId,omitempty"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary,omitempty"`
}

func (s Session) Validate() error {
	if err := s.Meta.Validate(); err != nil {
		return err
	}
	for _, m := range s.Messages {
		if m.ID == "" || m.Timestamp.IsZero() {
			return errors.New("message without id or timestamp")
		}
	}
	return nil
}

type State struct {
	Sessions []Session `json:"sessions"`
	ActiveID string    `json:"activeId,omitempty"`
}

func Defaults() State {
	return State{Sessions: []Session{}}
}

var Codec = codec.MustNew(1, Defaults,
	codec.Migration{From: 0, Query: `if type == "array" then {sessions: .} else . end`},
)

type Store struct {
	*store.Store[State]
}

func New(opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...)}
}

// CreateSession starts a session and makes it active. Past MaxSessions the
// session created first is evicted.
func (s *Store) CreateSession(ctx context.Context, title, personaID string) Session {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	var created Session
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Sessions, created = store.Create(st.Sessions, Session{
			Title:     title,
			PersonaID: personaID,
			Messages:  []Message{},
		}, s.Clock().Now())
		st.Sessions, _ = store.Cap(st.Sessions, MaxSessions, store.OldestCreated[Session]())
		st.ActiveID = created.ID
		return st, true
	})
	return created
}

// AddMessage appends a message to the session. The first user message of an
// untitled session becomes its title.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role Role, content string) (Message, bool, error) {
	if !role.Valid() {
		return Message{}, false, &store.ValidationError{Field: "role", Message: "must be user, assistant or system"}
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, false, &store.ValidationError{Field: "content", Message: "must not be empty"}
	}
	var (
		msg   Message
		found bool
	)
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		msg = Message{ID: store.NewID(), Role: role, Content: content, Timestamp: now}
		st.Sessions, found = store.Update(st.Sessions, sessionID, now, func(sess *Session) {
			if role == RoleUser && sess.Title == DefaultTitle && !hasUserMessage(sess.Messages) {
				sess.Title = autoTitle(content)
			}
			sess.Messages, _ = store.Cap(store.Append(sess.Messages, msg), MaxMessages, store.FirstIn[Message]())
		})
		return st, found
	})
	return msg, found, nil
}

func hasUserMessage(msgs []Message) bool {
	return slices.ContainsFunc(msgs, func(m Message) bool { return m.Role == RoleUser })
}

func autoTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= titleLength {
		return title
	}
	return strings.TrimSpace(string([]rune(title)[:titleLength]))
}

// SessionPatch holds the fields changed by UpdateSession.
type SessionPatch struct {
	Title     *string `json:"title,omitempty"`
	PersonaID *string `json:"personaId,omitempty"`
	Summary   *string `json:"summary,omitempty"`
}

func (s *Store) UpdateSession(ctx context.Context, id string, p SessionPatch) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Sessions, found = store.Update(st.Sessions, id, s.Clock().Now(), func(sess *Session) {
			if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
				sess.Title = strings.TrimSpace(*p.Title)
			}
			if p.PersonaID != nil {
				sess.PersonaID = *p.PersonaID
			}
			if p.Summary != nil {
				sess.Summary = *p.Summary
			}
		})
		return st, found
	})
	return found
}

// DeleteSession removes the session and clears it as the active one.
func (s *Store) DeleteSession(ctx context.Context, id string) bool {
	var removed bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Sessions, removed = store.Remove(st.Sessions, id)
		if removed && st.ActiveID == id {
			st.ActiveID = ""
		}
		return st, removed
	})
	return removed
}

func (s *Store) SetActive(ctx context.Context, id string) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		if store.Index(st.Sessions, id) < 0 {
			return st, false
		}
		found = true
		if st.ActiveID == id {
			return st, false
		}
		st.ActiveID = id
		return st, true
	})
	return found
}

// Clear drops every session.
func (s *Store) Clear(ctx context.Context) {
	s.Reset(ctx)
}

func (s *Store) Get(id string) (Session, bool) {
	return store.Find(s.Snapshot().Sessions, id)
}

// Active returns the active session, if any.
func (s *Store) Active() (Session, bool) {
	st := s.Snapshot()
	if st.ActiveID == "" {
		return Session{}, false
	}
	return store.Find(st.Sessions, st.ActiveID)
}

func (s *Store) source() func() []Session {
	return func() []Session { return s.Snapshot().Sessions }
}

func byUpdated(sess Session) time.Time { return sess.UpdatedAt }

// Recent lists up to n sessions, most recently updated first.
func (s *Store) Recent(n int) iter.Seq[Session] {
	return store.Query(s.source(), nil, store.Latest(byUpdated), n)
}

// Search lists sessions whose title or any message contains q, ignoring case.
func (s *Store) Search(q string) iter.Seq[Session] {
	return store.Query(s.source(), func(sess Session) bool {
		if match.Contains(sess.Title, q) {
			return true
		}
		return slices.ContainsFunc(sess.Messages, func(m Message) bool { return match.Contains(m.Content, q) })
	}, store.Latest(byUpdated), 0)
}

// ContextWindow returns the last n messages of the session.
func (s *Store) ContextWindow(id string, n int) []Message {
	sess, ok := s.Get(id)
	if !ok {
		return nil
	}
	if n <= 0 || n >= len(sess.Messages) {
		return sess.Messages
	}
	return sess.Messages[len(sess.Messages)-n:]
}
