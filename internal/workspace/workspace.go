// Package workspace keeps shared team workspaces: members with roles, shared
// items and an activity log.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/chirino/assistant-state/internal/codec"
	"github.com/chirino/assistant-state/internal/store"
)

// Key is the slot key suffix of the workspace store.
const Key = "team-workspace"

// MaxActivity bounds the activity log of each workspace.
const MaxActivity = 50

type Role string

const (
	Owner  Role = "owner"
	Editor Role = "editor"
	Viewer Role = "viewer"
)

func (r Role) Valid() bool { return r == Owner || r == Editor || r == Viewer }

type ItemKind string

const (
	Note     ItemKind = "note"
	Workflow ItemKind = "workflow"
	Command  ItemKind = "command"
)

func (k ItemKind) Valid() bool { return k == Note || k == Workflow || k == Command }

type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Item struct {
	store.Meta
	Kind     ItemKind `json:"kind"`
	Title    string   `json:"title"`
	Content  string   `json:"content,omitempty"`
	RefID    string   `json:"refId,omitempty"`
	SharedBy string   `json:"sharedBy"`
}

type Activity struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

type Workspace struct {
	store.Meta
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Members     []Member   `json:"members"`
	Items       []Item     `json:"items"`
	Activity    []Activity `json:"activity"`
}

func (w Workspace) Validate() error {
	if err := w.Meta.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("workspace without name")
	}
	return nil
}

func (w Workspace) owners() int {
	n := 0
	for _, m := range w.Members {
		if m.Role == Owner {
			n++
		}
	}
	return n
}

type State struct {
	Workspaces []Workspace `json:"workspaces"`
	ActiveID   string      `json:"activeId,omitempty"`
}

func Defaults() State {
	return State{Workspaces: []Workspace{}}
}

var Codec = codec.MustNew(1, Defaults)

// Store is the workspace store of one user. Actor names that user in the
// members list and in activity entries.
type Store struct {
	*store.Store[State]
	actor string
}

func New(actor string, opts ...store.Option) *Store {
	return &Store{Store: store.New(Key, Codec, opts...), actor: actor}
}

func (s *Store) Actor() string { return s.actor }

func (s *Store) log(w *Workspace, now time.Time, action, detail string) {
	entry := Activity{ID: store.NewID(), Actor: s.actor, Action: action, Detail: detail, At: now}
	w.Activity, _ = store.Cap(store.Append(w.Activity, entry), MaxActivity, store.FirstIn[Activity]())
}

// edit applies fn to workspace id under the store lock. fn returning an
// error or false leaves the state untouched.
func (s *Store) edit(ctx context.Context, id string, fn func(w *Workspace, now time.Time) (bool, error)) (bool, error) {
	var found bool
	var err error
	s.Store.Update(ctx, func(st State) (State, bool) {
		i := store.Index(st.Workspaces, id)
		if i < 0 {
			return st, false
		}
		found = true
		now := s.Clock().Now()
		w := st.Workspaces[i]
		changed, ferr := fn(&w, now)
		if ferr != nil || !changed {
			err = ferr
			return st, false
		}
		w.UpdatedAt = store.Touch(w.UpdatedAt, now)
		st.Workspaces = slices.Clone(st.Workspaces)
		st.Workspaces[i] = w
		return st, true
	})
	return found, err
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &store.ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}

// CreateWorkspace creates a workspace owned by the store's actor and makes it
// active.
func (s *Store) CreateWorkspace(ctx context.Context, name, description string) (Workspace, error) {
	if err := required("name", name); err != nil {
		return Workspace{}, err
	}
	var w Workspace
	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		seed := Workspace{
			Name:        strings.TrimSpace(name),
			Description: description,
			Members:     []Member{{ID: s.actor, Name: s.actor, Role: Owner, JoinedAt: now}},
			Items:       []Item{},
		}
		s.log(&seed, now, "created", seed.Name)
		st.Workspaces, w = store.Create(st.Workspaces, seed, now)
		st.ActiveID = w.ID
		return st, true
	})
	return w, nil
}

type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Rename changes the name or description of a workspace.
func (s *Store) Rename(ctx context.Context, id string, p Patch) (bool, error) {
	if p.Name != nil {
		if err := required("name", *p.Name); err != nil {
			return false, err
		}
	}
	return s.edit(ctx, id, func(w *Workspace, now time.Time) (bool, error) {
		if p.Name != nil {
			w.Name = strings.TrimSpace(*p.Name)
		}
		if p.Description != nil {
			w.Description = *p.Description
		}
		s.log(w, now, "renamed", w.Name)
		return true, nil
	})
}

// DeleteWorkspace removes a workspace. Deleting the active workspace clears
// the active selection.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) bool {
	var found bool
	s.Store.Update(ctx, func(st State) (State, bool) {
		st.Workspaces, found = store.Remove(st.Workspaces, id)
		if found && st.ActiveID == id {
			st.ActiveID = ""
		}
		return st, found
	})
	return found
}

// SetActive selects the active workspace. An empty id clears the selection.
func (s *Store) SetActive(ctx context.Context, id string) bool {
	ok := true
	s.Store.Update(ctx, func(st State) (State, bool) {
		if id != "" && store.Index(st.Workspaces, id) < 0 {
			ok = false
			return st, false
		}
		st.ActiveID = id
		return st, true
	})
	return ok
}

type MemberInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (in MemberInput) validate() error {
	if err := required("name", in.Name); err != nil {
		return err
	}
	if !in.Role.Valid() {
		return &store.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", in.Role)}
	}
	return nil
}

// AddMember adds a member to workspace wsID. Emails are unique per workspace.
func (s *Store) AddMember(ctx context.Context, wsID string, in MemberInput) (Member, bool, error) {
	if err := in.validate(); err != nil {
		return Member{}, false, err
	}
	var m Member
	found, err := s.edit(ctx, wsID, func(w *Workspace, now time.Time) (bool, error) {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		if email != "" && slices.ContainsFunc(w.Members, func(o Member) bool { return strings.EqualFold(o.Email, email) }) {
			return false, &store.ValidationError{Field: "email", Message: fmt.Sprintf("%s is already a member", email)}
		}
		m = Member{ID: store.NewID(), Name: strings.TrimSpace(in.Name), Email: email, Role: in.Role, JoinedAt: now}
		w.Members = store.Append(w.Members, m)
		s.log(w, now, "member_added", fmt.Sprintf("%s as %s", m.Name, m.Role))
		return true, nil
	})
	return m, found, err
}

func memberIndex(w *Workspace, id string) int {
	return slices.IndexFunc(w.Members, func(m Member) bool { return m.ID == id })
}

var errLastOwner = &store.ValidationError{Field: "role", Message: "a workspace must keep at least one owner"}

// UpdateMemberRole changes a member's role. The last owner cannot be demoted.
func (s *Store) UpdateMemberRole(ctx context.Context, wsID, memberID string, role Role) (bool, error) {
	if !role.Valid() {
		return false, &store.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	var memberFound bool
	found, err := s.edit(ctx, wsID, func(w *Workspace, now time.Time) (bool, error) {
		i := memberIndex(w, memberID)
		if i < 0 {
			return false, nil
		}
		memberFound = true
		if w.Members[i].Role == role {
			return false, nil
		}
		if w.Members[i].Role == Owner && w.owners() == 1 {
			return false, errLastOwner
		}
		w.Members = slices.Clone(w.Members)
		w.Members[i].Role = role
		s.log(w, now, "role_changed", fmt.Sprintf("%s to %s", w.Members[i].Name, role))
		return true, nil
	})
	return found && memberFound, err
}

// RemoveMember removes a member. The last owner cannot be removed.
func (s *Store) RemoveMember(ctx context.Context, wsID, memberID string) (bool, error) {
	var memberFound bool
	found, err := s.edit(ctx, wsID, func(w *Workspace, now time.Time) (bool, error) {
		i := memberIndex(w, memberID)
		if i < 0 {
			return false, nil
		}
		memberFound = true
		m := w.Members[i]
		if m.Role == Owner && w.owners() == 1 {
			return false, errLastOwner
		}
		w.Members = slices.Delete(slices.Clone(w.Members), i, i+1)
		s.log(w, now, "member_removed", m.Name)
		return true, nil
	})
	return found && memberFound, err
}

type ItemInput struct {
	Kind    ItemKind `json:"kind"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	RefID   string   `json:"refId"`
}

// ShareItem adds a shared item to workspace wsID.
func (s *Store) ShareItem(ctx context.Context, wsID string, in ItemInput) (Item, bool, error) {
	if !in.Kind.Valid() {
		return Item{}, false, &store.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", in.Kind)}
	}
	if err := required("title", in.Title); err != nil {
		return Item{}, false, err
	}
	var it Item
	found, err := s.edit(ctx, wsID, func(w *Workspace, now time.Time) (bool, error) {
		w.Items, it = store.Create(w.Items, Item{
			Kind: in.Kind, Title: strings.TrimSpace(in.Title), Content: in.Content, RefID: in.RefID, SharedBy: s.actor,
		}, now)
		s.log(w, now, "item_shared", fmt.Sprintf("%s %s", it.Kind, it.Title))
		return true, nil
	})
	return it, found, err
}

type ItemPatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// UpdateItem edits a shared item.
func (s *Store) UpdateItem(ctx context.Context, wsID, itemID string, p ItemPatch) (bool, error) {
	if p.Title != nil {
		if err := required("title", *p.Title); err != nil {
			return false, err
		}
	}
	var itemFound bool
	found, err := s.edit(ctx, wsID, func(w *Workspace, now time.Time) (bool, error) {
		w.Items, itemFound = store.Update(w.Items, itemID, now, func(it *Item) {
			if p.Title != nil {
				it.Title = strings.TrimSpace(*p.Title)
			}
			if p.Content != nil {
				it.Content = *p.Content
			}
		})
		if !itemFound {
			return false, nil
		}
		it, _ := store.Find(w.Items, itemID)
		s.log(w, now, "item_updated", it.Title)
		return true, nil
	})
	return found && itemFound, err
}

// RemoveItem deletes a shared item.
func (s *Store) RemoveItem(ctx context.Context, wsID, itemID string) bool {
	var itemFound bool
	s.edit(ctx, wsID, func(w *Workspace, now time.Time) (bool, error) {
		it, ok := store.Find(w.Items, itemID)
		if !ok {
			return false, nil
		}
		w.Items, itemFound = store.Remove(w.Items, itemID)
		s.log(w, now, "item_removed", it.Title)
		return true, nil
	})
	return itemFound
}

// Clear removes every workspace.
func (s *Store) Clear(ctx context.Context) {
	s.Reset(ctx)
}

func (s *Store) Get(id string) (Workspace, bool) {
	return store.Find(s.Snapshot().Workspaces, id)
}

// Active returns the active workspace.
func (s *Store) Active() (Workspace, bool) {
	st := s.Snapshot()
	if st.ActiveID == "" {
		return Workspace{}, false
	}
	return store.Find(st.Workspaces, st.ActiveID)
}

func (s *Store) All() iter.Seq[Workspace] {
	return store.Query(func() []Workspace { return s.Snapshot().Workspaces }, nil, nil, 0)
}

// Activity lists up to n activity entries of workspace id, newest first.
func (s *Store) Activity(id string, n int) iter.Seq[Activity] {
	return store.Query(func() []Activity {
		w, _ := s.Get(id)
		out := slices.Clone(w.Activity)
		slices.Reverse(out)
		return out
	}, nil, nil, n)
}

// MembersByRole groups the members of workspace id by role.
func (s *Store) MembersByRole(id string) map[Role][]Member {
	w, ok := s.Get(id)
	if !ok {
		return nil
	}
	out := map[Role][]Member{}
	for _, m := range w.Members {
		out[m.Role] = append(out[m.Role], m)
	}
	return out
}
