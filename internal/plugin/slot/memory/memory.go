// Package memory provides the in-process slot backend. It is the default
// backend and the fake used by tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
)

func init() {
	registryslot.Register(registryslot.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registryslot.Slot, error) {
			return New(), nil
		},
	})
}

// Slot is a map guarded by a RWMutex.
type Slot struct {
	mu     sync.RWMutex
	values map[string]string
	// failSet, when set, is returned from every Set call.
	failSet error
	// failGet, when set, is returned from every Get call.
	failGet error
}

// New returns an empty in-memory slot.
func New() *Slot {
	return &Slot{values: map[string]string{}}
}

func (s *Slot) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failGet != nil {
		return "", false, s.failGet
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Slot) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	s.values[key] = value
	return nil
}

func (s *Slot) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *Slot) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Slot) Close() error { return nil }

// FailWrites makes every subsequent Set return err (nil restores normal behavior).
// Used to simulate quota errors.
func (s *Slot) FailWrites(err error) {
	s.mu.Lock()
	s.failSet = err
	s.mu.Unlock()
}

// FailReads makes every subsequent Get return err (nil restores normal behavior).
// Used to simulate an unreachable backend.
func (s *Slot) FailReads(err error) {
	s.mu.Lock()
	s.failGet = err
	s.mu.Unlock()
}

var _ registryslot.Slot = (*Slot)(nil)
