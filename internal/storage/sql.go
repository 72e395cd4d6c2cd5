package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
)

type SQLStore struct {
	db     *sqlx.DB
	cfg    config.StorageConfig
	logger *logger.Logger
}

func NewSQLStore(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (*SQLStore, error) {
	log = log.WithComponent("storage")

	start := time.Now()
	ctx, span := log.StartOperation(ctx, "storage.NewSQLStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
	)
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "storage.NewSQLStore", start, err)
	}()

	if cfg.Driver == "sqlite3" {
		if err = ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to profile store: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{db: db, cfg: cfg, logger: log}
	if err = store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// ensureSQLiteDir creates the parent directory of a file-backed sqlite DSN.
func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}
	return nil
}

func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profile_kv (
		item_key TEXT PRIMARY KEY,
		item_value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		s.logger.LogError(ctx, err, "storage.migrate", "driver", s.cfg.Driver)
		return err
	}
	s.logger.LogDuration(ctx, "storage.migrate", start, "driver", s.cfg.Driver)
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	query := s.db.Rebind(`SELECT item_value FROM profile_kv WHERE item_key = ?`)
	if err := s.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	query := s.db.Rebind(`
		INSERT INTO profile_kv (item_key, item_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (item_key) DO UPDATE
		SET item_value = excluded.item_value, updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query, key, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM profile_kv WHERE item_key IN (?)`, keys)
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var candidates []string
	query := s.db.Rebind(`SELECT item_key FROM profile_kv WHERE item_key LIKE ? ORDER BY item_key`)
	if err := s.db.SelectContext(ctx, &candidates, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	// LIKE treats _ in tenant_<id>_ as a wildcard
	keys := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
