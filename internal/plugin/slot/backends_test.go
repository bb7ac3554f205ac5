package slot

import (
	"context"
	"testing"

	"github.com/chirino/assistant-state/internal/config"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/infinispan"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/mongo"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/postgres"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/redis"
	_ "github.com/chirino/assistant-state/internal/plugin/slot/s3"
	"github.com/chirino/assistant-state/internal/plugin/slot/slottest"
	registrymigrate "github.com/chirino/assistant-state/internal/registry/migrate"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/testutil/testinfinispan"
	"github.com/chirino/assistant-state/internal/testutil/testmongo"
	"github.com/chirino/assistant-state/internal/testutil/testpg"
	"github.com/chirino/assistant-state/internal/testutil/testredis"
	"github.com/chirino/assistant-state/internal/testutil/tests3"
	"github.com/stretchr/testify/require"
)

func openSlot(t *testing.T, cfg config.Config) registryslot.Slot {
	t.Helper()
	ctx := config.WithContext(context.Background(), &cfg)
	require.NoError(t, registrymigrate.Run(ctx, registrymigrate.Schema))

	loader, err := registryslot.Select(cfg.SlotType)
	require.NoError(t, err)
	s, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	cfg := config.DefaultConfig()
	cfg.SlotType = "postgres"
	cfg.SlotURL = testpg.StartPostgres(t)
	slottest.Run(t, openSlot(t, cfg))
}

func TestMongoSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	cfg := config.DefaultConfig()
	cfg.SlotType = "mongo"
	cfg.SlotURL = testmongo.StartMongo(t)
	slottest.Run(t, openSlot(t, cfg))
}

func TestRedisSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	cfg := config.DefaultConfig()
	cfg.SlotType = "redis"
	cfg.SlotURL = testredis.StartRedis(t)
	slottest.Run(t, openSlot(t, cfg))
}

func TestInfinispanSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	ispn := testinfinispan.StartInfinispan(t)
	cfg := config.DefaultConfig()
	cfg.SlotType = "infinispan"
	cfg.InfinispanHost = ispn.Host
	cfg.InfinispanUsername = ispn.Username
	cfg.InfinispanPassword = ispn.Password
	slottest.Run(t, openSlot(t, cfg))
}

func TestS3Slot(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	cfg := config.DefaultConfig()
	cfg.SlotType = "s3"
	cfg.S3Bucket = tests3.StartS3(t)
	cfg.S3UsePathStyle = true
	cfg.S3Prefix = "tenant-a"
	slottest.Run(t, openSlot(t, cfg))
}
