package workspace

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/plugin/slot/memory"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/stretchr/testify/require"
)

var T = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *store.ManualClock) {
	t.Helper()
	b, err := registryslot.NewNamespace(memory.New()).Bind(registryslot.Key("assistant", "alice", Key))
	require.NoError(t, err)
	clock := store.NewManualClock(T)
	s := New("alice", store.WithBinding(b), store.WithClock(clock))
	t.Cleanup(s.Close)
	s.Init(context.Background())
	return s, clock
}

func actions(s *Store, id string) []string {
	var out []string
	for a := range s.Activity(id, 0) {
		out = append(out, a.Action)
	}
	return out
}

func TestCreateWorkspace(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.CreateWorkspace(ctx, " ", "")
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)

	w, err := s.CreateWorkspace(ctx, "Family", "shared chores")
	require.NoError(t, err)
	require.Equal(t, "Family", w.Name)
	require.Equal(t, []Member{{ID: "alice", Name: "alice", Role: Owner, JoinedAt: T}}, w.Members)
	require.Equal(t, []string{"created"}, actions(s, w.ID))

	active, ok := s.Active()
	require.True(t, ok)
	require.Equal(t, w.ID, active.ID)
}

func TestMembers(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()
	w, err := s.CreateWorkspace(ctx, "Team", "")
	require.NoError(t, err)

	_, _, err = s.AddMember(ctx, w.ID, MemberInput{Name: "Bob", Role: "admin"})
	require.Error(t, err)

	clock.Advance(time.Minute)
	bob, found, err := s.AddMember(ctx, w.ID, MemberInput{Name: "Bob", Email: "Bob@example.com", Role: Editor})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bob@example.com", bob.Email)

	_, _, err = s.AddMember(ctx, w.ID, MemberInput{Name: "Bobby", Email: "bob@EXAMPLE.com", Role: Viewer})
	require.ErrorAs(t, err, new(*store.ValidationError))

	_, found, err = s.AddMember(ctx, "missing", MemberInput{Name: "Eve", Role: Viewer})
	require.NoError(t, err)
	require.False(t, found)

	ok, err := s.UpdateMemberRole(ctx, w.ID, bob.ID, Viewer)
	require.NoError(t, err)
	require.True(t, ok)

	byRole := s.MembersByRole(w.ID)
	require.Len(t, byRole[Owner], 1)
	require.Len(t, byRole[Viewer], 1)
	require.Empty(t, byRole[Editor])

	_, err = s.UpdateMemberRole(ctx, w.ID, "alice", Editor)
	require.ErrorIs(t, err, errLastOwner)
	_, err = s.RemoveMember(ctx, w.ID, "alice")
	require.ErrorIs(t, err, errLastOwner)

	ok, err = s.UpdateMemberRole(ctx, w.ID, bob.ID, Owner)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.RemoveMember(ctx, w.ID, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.RemoveMember(ctx, w.ID, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []string{"member_removed", "role_changed", "role_changed", "member_added", "created"}, actions(s, w.ID))
	got, _ := s.Get(w.ID)
	require.Equal(t, T.Add(time.Minute), got.UpdatedAt)
}

func TestItems(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()
	w, err := s.CreateWorkspace(ctx, "Team", "")
	require.NoError(t, err)

	_, _, err = s.ShareItem(ctx, w.ID, ItemInput{Kind: "photo", Title: "x"})
	require.Error(t, err)

	it, found, err := s.ShareItem(ctx, w.ID, ItemInput{Kind: Workflow, Title: "Morning", RefID: "wf-1"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", it.SharedBy)

	clock.Advance(time.Hour)
	title := "Morning routine"
	ok, err := s.UpdateItem(ctx, w.ID, it.ID, ItemPatch{Title: &title})
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := s.Get(w.ID)
	require.Equal(t, "Morning routine", got.Items[0].Title)
	require.Equal(t, T, got.Items[0].CreatedAt)
	require.Equal(t, T.Add(time.Hour), got.Items[0].UpdatedAt)

	ok, err = s.UpdateItem(ctx, w.ID, "nope", ItemPatch{Title: &title})
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, s.RemoveItem(ctx, w.ID, it.ID))
	require.False(t, s.RemoveItem(ctx, w.ID, it.ID))
	require.Equal(t, []string{"item_removed", "item_updated", "item_shared", "created"}, actions(s, w.ID))
}

func TestActivityCapped(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	w, err := s.CreateWorkspace(ctx, "Team", "")
	require.NoError(t, err)
	for i := range MaxActivity + 10 {
		name := fmt.Sprint("Team ", i)
		_, err := s.Rename(ctx, w.ID, Patch{Name: &name})
		require.NoError(t, err)
	}
	got, _ := s.Get(w.ID)
	require.Len(t, got.Activity, MaxActivity)
	latest := slices.Collect(s.Activity(w.ID, 1))
	require.Equal(t, fmt.Sprint("Team ", MaxActivity+9), latest[0].Detail)
}

func TestDeleteAndActive(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a, err := s.CreateWorkspace(ctx, "A", "")
	require.NoError(t, err)
	b, err := s.CreateWorkspace(ctx, "B", "")
	require.NoError(t, err)
	require.Equal(t, b.ID, s.Snapshot().ActiveID)

	require.False(t, s.SetActive(ctx, "missing"))
	require.True(t, s.SetActive(ctx, a.ID))
	require.True(t, s.DeleteWorkspace(ctx, a.ID))
	require.False(t, s.DeleteWorkspace(ctx, a.ID))
	_, ok := s.Active()
	require.False(t, ok)
	require.Nil(t, s.MembersByRole(a.ID))
	require.Len(t, slices.Collect(s.All()), 1)
}
