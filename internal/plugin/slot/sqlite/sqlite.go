// Package sqlite stores slot values in a local SQLite file, the closest match
// to a single-user browser storage area.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	"github.com/chirino/assistant-state/internal/plugin/slot/sqlslot"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultPath = "assistant-state.db"

func init() {
	registryslot.Register(registryslot.Plugin{
		Name:   "sqlite",
		Loader: load,
	})
}

func load(ctx context.Context) (registryslot.Slot, error) {
	cfg := config.FromContext(ctx)
	path := defaultPath
	if cfg != nil && strings.TrimSpace(cfg.SlotURL) != "" {
		path = strings.TrimPrefix(strings.TrimSpace(cfg.SlotURL), "sqlite://")
	}
	return Open(ctx, path)
}

// Open opens (creating if needed) the SQLite database at path and ensures the
// slot table exists. SQLite is a single-writer database, so the pool holds one
// connection.
func Open(ctx context.Context, path string) (*sqlslot.Slot, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlslot.Migrate(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info("SQLite slot opened", "path", path)
	return sqlslot.New(db), nil
}
