package slot

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrKeyBound is returned when a key is already reserved by another binding.
var ErrKeyBound = errors.New("slot key already bound")

// Namespace hands out exclusive key reservations on a shared Slot.
type Namespace struct {
	slot  Slot
	mu    sync.Mutex
	bound map[string]struct{}
}

// NewNamespace wraps s so that each key can be bound by at most one owner.
func NewNamespace(s Slot) *Namespace {
	return &Namespace{slot: s, bound: map[string]struct{}{}}
}

// Slot returns the underlying slot.
func (n *Namespace) Slot() Slot {
	return n.slot
}

// Bind reserves key for the caller until the returned Binding is released.
func (n *Namespace) Bind(key string) (*Binding, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.bound[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyBound, key)
	}
	n.bound[key] = struct{}{}
	return &Binding{ns: n, key: key}, nil
}

// Bound reports whether key is currently reserved.
func (n *Namespace) Bound(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.bound[key]
	return ok
}

func (n *Namespace) release(key string) {
	n.mu.Lock()
	delete(n.bound, key)
	n.mu.Unlock()
}

// Binding is the exclusive handle on one slot key.
type Binding struct {
	ns       *Namespace
	key      string
	released sync.Once
}

// Key returns the reserved key.
func (b *Binding) Key() string {
	return b.key
}

func (b *Binding) Load(ctx context.Context) (string, bool, error) {
	return b.ns.slot.Get(ctx, b.key)
}

func (b *Binding) Save(ctx context.Context, value string) error {
	return b.ns.slot.Set(ctx, b.key, value)
}

func (b *Binding) Clear(ctx context.Context) error {
	return b.ns.slot.Remove(ctx, b.key)
}

// Release gives the key back to the namespace. It is safe to call more than once.
func (b *Binding) Release() {
	b.released.Do(func() { b.ns.release(b.key) })
}
