package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens (creating if needed) a SQLite database at path and
// migrates the key-value table.
func OpenSQLite(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrate creates database tables
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("migrate kv_entries: %w", err)
	}
	return nil
}
