package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/chirino/assistant-state/internal/config"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registryslot.Register(registryslot.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registryslot.Slot, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.SlotURL == "" {
		return nil, fmt.Errorf("redis slot: ASSISTANT_STATE_SLOT_URL is required")
	}
	return LoadFromURL(ctx, cfg.SlotURL)
}

// LoadFromURL creates a Slot from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (*Slot, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis slot: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts)
}

// LoadFromOptions creates a Slot from go-redis Options.
// This allows callers to customize options (e.g. Protocol for RESP2).
func LoadFromOptions(ctx context.Context, opts *goredis.Options) (*Slot, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis slot: ping failed: %w", err)
	}
	return &Slot{client: client}, nil
}

// Slot stores each value as a plain string key without expiry.
type Slot struct {
	client *goredis.Client
}

func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Slot) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Slot) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Slot) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (s *Slot) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

var _ registryslot.Slot = (*Slot)(nil)
