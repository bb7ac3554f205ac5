package testmongo

import (
	"context"
	"testing"

	"github.com/chirino/assistant-state/internal/testutil"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// StartMongo starts a disposable MongoDB and returns its connection URI.
func StartMongo(tb testing.TB) string {
	tb.Helper()
	testutil.RequireDocker(tb)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		tb.Fatalf("start mongodb container: %v", err)
	}
	testutil.TerminateOnCleanup(tb, "mongodb", container)

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("build mongodb connection string: %v", err)
	}
	return uri
}
