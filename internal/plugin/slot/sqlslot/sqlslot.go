// Package sqlslot implements the slot contract on a single GORM table. It is
// shared by the postgres and sqlite backends.
package sqlslot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is one row of the slot table.
type Record struct {
	Key       string    `gorm:"column:slot_key;primaryKey;size:512"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName pins the table name regardless of GORM naming strategy.
func (Record) TableName() string { return "assistant_slots" }

// Slot stores values in the assistant_slots table.
type Slot struct {
	db *gorm.DB
}

// New wraps an open GORM connection.
func New(db *gorm.DB) *Slot {
	return &Slot{db: db}
}

// Migrate creates or updates the slot table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("slot table migration: %w", err)
	}
	return nil
}

func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("slot_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return rec.Value, true, nil
}

func (s *Slot) Set(ctx context.Context, key string, value string) error {
	rec := Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Slot) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("slot_key = ?", key).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Slot) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.db.WithContext(ctx).Model(&Record{})
	if prefix != "" {
		q = q.Where("slot_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := q.Order("slot_key").Pluck("slot_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *Slot) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ registryslot.Slot = (*Slot)(nil)
