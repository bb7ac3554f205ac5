// Package testutil holds helpers shared by the container-backed test suites.
package testutil

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips the test when no healthy container runtime is reachable.
func RequireDocker(tb testing.TB) {
	tb.Helper()
	if t, ok := tb.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}
}

// TerminateOnCleanup stops c when the test finishes.
func TerminateOnCleanup(tb testing.TB, name string, c testcontainers.Container) {
	tb.Helper()
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			tb.Errorf("terminate %s container: %v", name, err)
		}
	})
}

// RunContainer starts req, registers its teardown and returns the host:port
// mapped to the container's port. Failures abort the test.
func RunContainer(tb testing.TB, name string, req testcontainers.ContainerRequest, port string) string {
	tb.Helper()
	RequireDocker(tb)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		tb.Fatalf("start %s container: %v", name, err)
	}
	TerminateOnCleanup(tb, name, c)

	host, err := c.Host(ctx)
	if err != nil {
		tb.Fatalf("get %s host: %v", name, err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		tb.Fatalf("get %s mapped port: %v", name, err)
	}
	return net.JoinHostPort(host, mapped.Port())
}

// Eventually calls probe every interval until it succeeds or timeout passes.
// Each attempt gets its own deadline of at most interval*4.
func Eventually(ctx context.Context, timeout, interval time.Duration, probe func(ctx context.Context) error) error {
	deadline := time.Now().Add(timeout)
	attempts := 0
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 4*interval)
		err := probe(attemptCtx)
		cancel()
		attempts++
		if err == nil {
			return nil
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("not ready after %d attempts: %w", attempts, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
