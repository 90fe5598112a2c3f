package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vibemirror/chronos/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm stores entries in the kv_entries table of a gorm database.
type Gorm struct {
	db *gorm.DB
}

// OpenSQLite opens the sqlite file at path through gorm.
func OpenSQLite(path string) (*Gorm, error) {
	gdb, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return &Gorm{db: gdb}, nil
}

// NewGorm wraps an already opened database. The table must exist.
func NewGorm(gdb *gorm.DB) *Gorm {
	return &Gorm{db: gdb}
}

func (g *Gorm) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry db.Entry
	err := g.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", key)
	}
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	return entry.Value, true, nil
}

func (g *Gorm) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	entry := db.Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	return errors.Wrapf(err, "set %s", key)
}

func (g *Gorm) Delete(ctx context.Context, key string) error {
	err := g.db.WithContext(ctx).Where("key = ?", key).Delete(&db.Entry{}).Error
	return errors.Wrapf(err, "delete %s", key)
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.Close()
}
