package kv

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Dialect holds the statements that differ between SQL servers.
type Dialect struct {
	Driver string
	Create string
	Get    string
	Upsert string
	Delete string
}

var DialectPostgres = Dialect{
	Driver: "postgres",
	Create: `CREATE TABLE IF NOT EXISTS kv_entries (
		"key" VARCHAR(191) PRIMARY KEY,
		"value" BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	Get: `SELECT "value" FROM kv_entries WHERE "key" = $1`,
	Upsert: `INSERT INTO kv_entries ("key", "value", updated_at) VALUES ($1, $2, $3)
		ON CONFLICT ("key") DO UPDATE SET "value" = EXCLUDED."value", updated_at = EXCLUDED.updated_at`,
	Delete: `DELETE FROM kv_entries WHERE "key" = $1`,
}

var DialectMySQL = Dialect{
	Driver: "mysql",
	Create: "CREATE TABLE IF NOT EXISTS kv_entries (" +
		"`key` VARCHAR(191) NOT NULL PRIMARY KEY, " +
		"`value` LONGBLOB NOT NULL, " +
		"updated_at DATETIME(3) NOT NULL)",
	Get: "SELECT `value` FROM kv_entries WHERE `key` = ?",
	Upsert: "INSERT INTO kv_entries (`key`, `value`, updated_at) VALUES (?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE `value` = VALUES(`value`), updated_at = VALUES(updated_at)",
	Delete: "DELETE FROM kv_entries WHERE `key` = ?",
}

// SQL stores entries in a kv_entries table over database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL connects with the dialect's driver, pings and creates the table.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage dsn is required")
	}
	if dialect.Driver == "mysql" {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "parse mysql dsn")
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	}

	sqlDB, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialect.Driver)
	}
	return NewSQL(ctx, sqlDB, dialect)
}

// NewSQL wraps an open database and ensures the table exists.
func NewSQL(ctx context.Context, sqlDB *sql.DB, dialect Dialect) (*SQL, error) {
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrapf(err, "ping %s", dialect.Driver)
	}
	if _, err := sqlDB.ExecContext(ctx, dialect.Create); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "create kv_entries")
	}
	return &SQL{db: sqlDB, dialect: dialect}, nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", key)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Upsert, key, value, time.Now().UTC())
	return errors.Wrapf(err, "set %s", key)
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Delete, key)
	return errors.Wrapf(err, "delete %s", key)
}

func (s *SQL) Close() error {
	return s.db.Close()
}
