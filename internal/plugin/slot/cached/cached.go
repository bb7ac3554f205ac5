// Package cached puts a ristretto read cache in front of a slot.
package cached

import (
	"context"
	"fmt"
	"time"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/dgraph-io/ristretto/v2"
)

// entry distinguishes a cached absent key from a cached value.
type entry struct {
	value   string
	present bool
}

// Wrap returns a Slot that serves Get from memory when possible. maxCost is the
// cache budget in bytes of cached values; ttl bounds staleness when another
// process writes the same backend.
func Wrap(inner registryslot.Slot, maxCost int64, ttl time.Duration) (registryslot.Slot, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, entry]{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("slot cache: %w", err)
	}
	return &cachedSlot{inner: inner, cache: c, ttl: ttl}, nil
}

type cachedSlot struct {
	inner registryslot.Slot
	cache *ristretto.Cache[string, entry]
	ttl   time.Duration
}

func (s *cachedSlot) Get(ctx context.Context, key string) (string, bool, error) {
	if e, ok := s.cache.Get(key); ok {
		if security.CacheHitsTotal != nil {
			security.CacheHitsTotal.Inc()
		}
		return e.value, e.present, nil
	}
	if security.CacheMissesTotal != nil {
		security.CacheMissesTotal.Inc()
	}
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	s.put(key, entry{value: v, present: ok})
	return v, ok, nil
}

func (s *cachedSlot) Set(ctx context.Context, key string, value string) error {
	// Drop first so a failed write never leaves a stale value behind.
	s.cache.Del(key)
	if err := s.inner.Set(ctx, key, value); err != nil {
		return err
	}
	s.put(key, entry{value: value, present: true})
	return nil
}

func (s *cachedSlot) Remove(ctx context.Context, key string) error {
	s.cache.Del(key)
	if err := s.inner.Remove(ctx, key); err != nil {
		return err
	}
	s.put(key, entry{present: false})
	return nil
}

func (s *cachedSlot) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}

func (s *cachedSlot) Close() error {
	s.cache.Close()
	return s.inner.Close()
}

func (s *cachedSlot) put(key string, e entry) {
	cost := int64(len(key) + len(e.value) + 1)
	if s.ttl > 0 {
		s.cache.SetWithTTL(key, e, cost, s.ttl)
	} else {
		s.cache.Set(key, e, cost)
	}
	s.cache.Wait()
}
