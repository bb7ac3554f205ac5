package testredis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartRedis starts a disposable Redis container and returns a redis:// URL
// once it answers PING.
func StartRedis(tb testing.TB) string {
	tb.Helper()
	addr := testutil.RunContainer(tb, "redis", testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}, "6379")

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()
	err := testutil.Eventually(context.Background(), 20*time.Second, 250*time.Millisecond, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		tb.Fatalf("redis: %v", err)
	}
	return "redis://" + addr
}
