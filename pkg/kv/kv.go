// Package kv is the key-value persistence capability behind the stores.
// Every backend stores opaque JSON blobs under stable string keys.
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/vibemirror/chronos/pkg/config"
)

var ErrClosed = errors.New("kv store is closed")

// Store is implemented by every backend.
type Store interface {
	// Get returns the blob stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by storage.backend.
func Open(ctx context.Context, cfg *config.AppConfig) (Store, error) {
	switch backend := cfg.StorageBackend(); backend {
	case "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(cfg.StoragePath())
	case "sqlite":
		return OpenSQLite(cfg.StoragePath())
	case "postgres":
		return OpenSQL(ctx, DialectPostgres, cfg.Storage.DSN)
	case "mysql":
		return OpenSQL(ctx, DialectMySQL, cfg.Storage.DSN)
	case "redis":
		return OpenRedis(ctx, RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
