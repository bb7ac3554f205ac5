package store

import (
	"cmp"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Meta is the identity and timestamps shared by collection entities. Embed it
// in an entity struct to satisfy Entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects records without an id or creation time.
func (m Meta) Validate() error {
	if m.ID == "" {
		return errors.New("missing id")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("missing createdAt")
	}
	return nil
}

func (m *Meta) Metadata() *Meta { return m }

// Entity is a pointer to a collection element that carries Meta.
type Entity[T any] interface {
	*T
	Metadata() *Meta
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// Append returns a new slice holding items followed by vs. The input is never
// written to, so earlier snapshots sharing its backing array stay intact.
func Append[T any](items []T, vs ...T) []T {
	out := make([]T, 0, len(items)+len(vs))
	out = append(out, items...)
	return append(out, vs...)
}

// Create assigns seed a new id and both timestamps, then appends it.
func Create[T any, P Entity[T]](items []T, seed T, now time.Time) ([]T, T) {
	m := P(&seed).Metadata()
	m.ID = NewID()
	m.CreatedAt = now
	m.UpdatedAt = now
	return Append(items, seed), seed
}

// Index returns the position of id in items, or -1.
func Index[T any, P Entity[T]](items []T, id string) int {
	for i := range items {
		if P(&items[i]).Metadata().ID == id {
			return i
		}
	}
	return -1
}

// Find returns the entity with id.
func Find[T any, P Entity[T]](items []T, id string) (T, bool) {
	if i := Index[T, P](items, id); i >= 0 {
		return items[i], true
	}
	var zero T
	return zero, false
}

// Update applies patch to a copy of the entity with id and refreshes its
// updatedAt. An absent id leaves items untouched and reports false. patch
// cannot change the id or creation time.
func Update[T any, P Entity[T]](items []T, id string, now time.Time, patch func(*T)) ([]T, bool) {
	i := Index[T, P](items, id)
	if i < 0 {
		return items, false
	}
	out := slices.Clone(items)
	prev := *P(&out[i]).Metadata()
	patch(&out[i])
	m := P(&out[i]).Metadata()
	m.ID = prev.ID
	m.CreatedAt = prev.CreatedAt
	m.UpdatedAt = Touch(prev.UpdatedAt, now)
	return out, true
}

// Increment adds one to the counter selected by field.
func Increment[T any, P Entity[T]](items []T, id string, now time.Time, field func(*T) *int) ([]T, bool) {
	return Update[T, P](items, id, now, func(t *T) { *field(t)++ })
}

// Remove drops the entity with id. Removing an absent id is a no-op.
func Remove[T any, P Entity[T]](items []T, id string) ([]T, bool) {
	i := Index[T, P](items, id)
	if i < 0 {
		return items, false
	}
	return slices.Delete(slices.Clone(items), i, i+1), true
}

// Victim picks the index of the element to evict from an over-full collection.
type Victim[T any] func(items []T) int

// Cap evicts elements chosen by victim until items holds at most limit
// elements. It returns the kept and the evicted elements.
func Cap[T any](items []T, limit int, victim Victim[T]) (kept, evicted []T) {
	if limit < 0 || len(items) <= limit {
		return items, nil
	}
	kept = slices.Clone(items)
	for len(kept) > limit {
		i := victim(kept)
		evicted = append(evicted, kept[i])
		kept = slices.Delete(kept, i, i+1)
	}
	return kept, evicted
}

// Oldest evicts the element with the earliest time; ties evict the earlier
// element in collection order.
func Oldest[T any](at func(T) time.Time) Victim[T] {
	return func(items []T) int {
		best := 0
		for i := 1; i < len(items); i++ {
			if at(items[i]).Before(at(items[best])) {
				best = i
			}
		}
		return best
	}
}

// OldestCreated evicts by creation time.
func OldestCreated[T any, P Entity[T]]() Victim[T] {
	return Oldest(func(t T) time.Time { return P(&t).Metadata().CreatedAt })
}

// FirstIn evicts the head of an append-ordered collection.
func FirstIn[T any]() Victim[T] {
	return func([]T) int { return 0 }
}

// Lowest evicts the element with the smallest score. Equal scores evict the
// one with the earliest tie time, then the earlier element in collection
// order.
func Lowest[T any, N cmp.Ordered](score func(T) N, tie func(T) time.Time) Victim[T] {
	return func(items []T) int {
		best := 0
		for i := 1; i < len(items); i++ {
			a, b := score(items[i]), score(items[best])
			if a < b || (a == b && tie(items[i]).Before(tie(items[best]))) {
				best = i
			}
		}
		return best
	}
}

// Descending orders by key, largest first.
func Descending[T any, N cmp.Ordered](key func(T) N) func(a, b T) int {
	return func(a, b T) int { return cmp.Compare(key(b), key(a)) }
}

// Latest orders by time, most recent first.
func Latest[T any](at func(T) time.Time) func(a, b T) int {
	return func(a, b T) int { return at(b).Compare(at(a)) }
}

// Earliest orders by time, oldest first.
func Earliest[T any](at func(T) time.Time) func(a, b T) int {
	return func(a, b T) int { return at(a).Compare(at(b)) }
}

// Query returns the elements of src() accepted by keep, stably sorted by
// order, truncated to limit (0 means no limit). The sequence reads src on
// every iteration, so ranging over it again observes the current snapshot.
// A nil keep accepts everything; a nil order keeps collection order.
func Query[T any](src func() []T, keep func(T) bool, order func(a, b T) int, limit int) iter.Seq[T] {
	return func(yield func(T) bool) {
		var selected []T
		for _, it := range src() {
			if keep == nil || keep(it) {
				selected = append(selected, it)
			}
		}
		if order != nil {
			slices.SortStableFunc(selected, order)
		}
		for i, it := range selected {
			if limit > 0 && i >= limit {
				return
			}
			if !yield(it) {
				return
			}
		}
	}
}
