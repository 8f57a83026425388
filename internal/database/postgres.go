// ===========================================
// Package database - PostgreSQL Connection
// ===========================================
// One pgx pool is shared by the event store and the read model.
//
// CONNECTION POOLING:
// Connections are reused across requests. The pool is sized from
// config and health-checked in the background.
// ===========================================

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thromel/URLShortener-sub000/internal/config"
)

// PostgresDB wraps the connection pool with helper methods.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB creates a connection pool and verifies it with a ping.
// Startup should fail fast if this returns an error.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// NewPostgresDBFromPool wraps an existing pool (tests, tooling).
func NewPostgresDBFromPool(pool *pgxpool.Pool) *PostgresDB {
	return &PostgresDB{Pool: pool}
}

// Close shuts down the pool. Call it from main with defer.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks if the database is responsive.
func (db *PostgresDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics.
// If AcquiredConns == MaxConns frequently, increase the pool size.
func (db *PostgresDB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// ===========================================
// TRANSACTION HELPER
// ===========================================

// WithTransaction runs fn inside a transaction. The transaction is
// committed if fn returns nil and rolled back otherwise. A panic in fn
// rolls back and re-panics.
//
// Usage:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, "...")
//	    return err
//	})
func (db *PostgresDB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
