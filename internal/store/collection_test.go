package store_test

import (
	"slices"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/store"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func names(items []item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestCreateAssignsIdentity(t *testing.T) {
	items, created := store.Create([]item{}, item{Name: "a"}, base)
	require.Len(t, items, 1)
	require.NotEmpty(t, created.ID)
	require.Equal(t, base, created.CreatedAt)
	require.Equal(t, base, created.UpdatedAt)

	_, other := store.Create(items, item{Name: "b"}, base)
	require.NotEqual(t, created.ID, other.ID)
}

func TestUpdateAbsentIsNoop(t *testing.T) {
	items, _ := store.Create(nil, item{Name: "a"}, base)
	out, found := store.Update(items, "missing", base, func(it *item) { it.Name = "x" })
	require.False(t, found)
	require.Equal(t, items, out)
}

func TestUpdateDoesNotTouchPreviousSnapshot(t *testing.T) {
	items, a := store.Create(nil, item{Name: "a"}, base)
	out, found := store.Update(items, a.ID, base.Add(time.Minute), func(it *item) {
		it.Name = "renamed"
		it.ID = "hijacked"
	})
	require.True(t, found)
	require.Equal(t, "a", items[0].Name)
	require.Equal(t, "renamed", out[0].Name)
	require.Equal(t, a.ID, out[0].ID)
	require.Equal(t, base.Add(time.Minute), out[0].UpdatedAt)
}

func TestUpdatedAtNeverDecreases(t *testing.T) {
	items, a := store.Create(nil, item{Name: "a"}, base)
	out, _ := store.Update(items, a.ID, base.Add(-time.Hour), func(it *item) { it.Name = "b" })
	require.Equal(t, base, out[0].UpdatedAt)
}

func TestRemoveIsIdempotent(t *testing.T) {
	items, a := store.Create(nil, item{Name: "a"}, base)
	items, _ = store.Create(items, item{Name: "b"}, base)

	once, removed := store.Remove(items, a.ID)
	require.True(t, removed)
	twice, removed := store.Remove(once, a.ID)
	require.False(t, removed)
	require.Equal(t, once, twice)
	require.Equal(t, []string{"b"}, names(twice))
	require.Len(t, items, 2)
}

func TestIncrement(t *testing.T) {
	items, a := store.Create(nil, item{Name: "a"}, base)
	items, _ = store.Increment(items, a.ID, base, func(it *item) *int { return &it.Uses })
	items, _ = store.Increment(items, a.ID, base, func(it *item) *int { return &it.Uses })
	require.Equal(t, 2, items[0].Uses)
}

func TestCapNeverExceeded(t *testing.T) {
	var items []item
	for i := range 25 {
		items, _ = store.Create(items, item{Name: string(rune('a' + i))}, base.Add(time.Duration(i)*time.Second))
		items, _ = store.Cap(items, 10, store.OldestCreated[item]())
		require.LessOrEqual(t, len(items), 10)
	}
	require.Equal(t, "p", items[0].Name)
	require.Equal(t, "y", items[9].Name)
}

func TestCapEvictsLowestThenLeastRecent(t *testing.T) {
	items := []item{
		{Meta: store.Meta{ID: "1", UpdatedAt: base.Add(2 * time.Minute)}, Name: "x", Uses: 1},
		{Meta: store.Meta{ID: "2", UpdatedAt: base}, Name: "y", Uses: 1},
		{Meta: store.Meta{ID: "3", UpdatedAt: base}, Name: "z", Uses: 4},
	}
	kept, evicted := store.Cap(items, 2, store.Lowest(
		func(it item) int { return it.Uses },
		func(it item) time.Time { return it.UpdatedAt },
	))
	require.Equal(t, []string{"x", "z"}, names(kept))
	require.Equal(t, []string{"y"}, names(evicted))
	require.Len(t, items, 3)
}

func TestQueryIsStableAndRestartable(t *testing.T) {
	current := []item{{Name: "a", Uses: 2}, {Name: "b", Uses: 5}, {Name: "c", Uses: 2}, {Name: "d", Uses: 0}}
	seq := store.Query(
		func() []item { return current },
		func(it item) bool { return it.Uses > 0 },
		store.Descending(func(it item) int { return it.Uses }),
		0,
	)
	require.Equal(t, []string{"b", "a", "c"}, names(slices.Collect(seq)))

	current = append(current, item{Name: "e", Uses: 9})
	require.Equal(t, []string{"e", "b", "a", "c"}, names(slices.Collect(seq)))

	limited := store.Query(func() []item { return current }, nil, nil, 2)
	require.Equal(t, []string{"a", "b"}, names(slices.Collect(limited)))
}
