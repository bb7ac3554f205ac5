package testinfinispan

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	username = "admin"
	password = "password"
)

// Infinispan is a running server reachable over its RESP connector.
type Infinispan struct {
	Host     string // host:port
	Username string
	Password string
}

// StartInfinispan starts a disposable Infinispan server and waits until its
// RESP connector answers PING.
func StartInfinispan(tb testing.TB) Infinispan {
	tb.Helper()
	addr := testutil.RunContainer(tb, "infinispan", testcontainers.ContainerRequest{
		Image:        "quay.io/infinispan/server:15.2",
		ExposedPorts: []string{"11222/tcp"},
		Env:          map[string]string{"USER": username, "PASS": password},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("11222/tcp"),
			wait.ForLog("Started connector Resp"),
		).WithDeadline(90 * time.Second),
	}, "11222")

	// The RESP connector has no HELLO, so the handshake must stay on RESP2.
	client := goredis.NewClient(&goredis.Options{Addr: addr, Username: username, Password: password, Protocol: 2})
	defer client.Close()
	err := testutil.Eventually(context.Background(), 60*time.Second, time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		tb.Fatalf("infinispan RESP: %v", err)
	}
	return Infinispan{Host: addr, Username: username, Password: password}
}
