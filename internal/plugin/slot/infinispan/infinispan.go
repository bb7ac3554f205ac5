// Package infinispan provides a slot plugin that connects to Infinispan
// via its RESP (Redis protocol) endpoint, reusing the Redis slot implementation.
package infinispan

import (
	"context"
	"fmt"

	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/plugin/slot/redis"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registryslot.Register(registryslot.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registryslot.Slot, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan slot: ASSISTANT_STATE_INFINISPAN_HOST is required")
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.InfinispanStartupTimeout)
	defer cancel()
	return redis.LoadFromOptions(timeoutCtx, Options(cfg.InfinispanHost, cfg.InfinispanUsername, cfg.InfinispanPassword))
}

// Options returns go-redis options for an Infinispan RESP endpoint.
// Infinispan's RESP endpoint does not support the RESP3 HELLO command,
// so we must use Protocol 2 (RESP2) to avoid a handshake hang.
func Options(host, username, password string) *goredis.Options {
	return &goredis.Options{
		Addr:     host,
		Username: username,
		Password: password,
		Protocol: 2,
	}
}
