package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opendata-etl/publisher/common/config"
	"github.com/opendata-etl/publisher/common/logger"
)

// DB wraps pgxpool for the shared fingerprint registry. Only the Postgres
// record backend uses it; jobs on a single host stay on sidecar files and
// never open a pool.
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New opens a connection pool to the fingerprint registry
func New(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse registry URL: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping fingerprint registry: %w", err)
	}

	log.Info("fingerprint registry connected", "host", cfg.Host, "db", cfg.Database)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// Close closes the registry connection pool
func (db *DB) Close() {
	db.log.Info("closing fingerprint registry pool")
	db.Pool.Close()
}

// Health checks registry health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}
