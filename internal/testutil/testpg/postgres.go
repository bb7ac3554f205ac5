package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgres starts a disposable Postgres and returns a DSN that accepts
// connections.
func StartPostgres(tb testing.TB) string {
	tb.Helper()
	testutil.RequireDocker(tb)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("assistant"),
		postgres.WithUsername("assistant"),
		postgres.WithPassword("assistant"),
		// The first "ready" line comes from the init-time server.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	testutil.TerminateOnCleanup(tb, "postgres", container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil || dsn == "" {
		tb.Fatalf("build postgres connection string: %v", err)
	}
	err = testutil.Eventually(ctx, 20*time.Second, 250*time.Millisecond, func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		return conn.Ping(ctx)
	})
	if err != nil {
		tb.Fatalf("postgres: %v", err)
	}
	return dsn
}
