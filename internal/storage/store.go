// Package storage is the client's persistent profile: the key-value space a
// browser would keep in localStorage. It survives between invocations and
// is shared by the tenant portal and the admin portal under disjoint keys.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, redisCfg config.RedisConfig, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	switch cfg.Driver {
	case "sqlite3", "postgres":
		return NewSQLStore(ctx, cfg, log)
	case "redis":
		return NewRedisStore(ctx, redisCfg, log)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
