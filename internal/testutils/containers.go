//go:build integration

// Package testutils starts throwaway PostgreSQL and Redis containers
// for integration tests. Containers are terminated by t.Cleanup.
package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thromel/URLShortener-sub000/internal/database"
)

// TestEnvironment holds live connections to the test containers.
type TestEnvironment struct {
	Postgres *database.PostgresDB
	Redis    *database.RedisDB

	PostgresDSN string
	RedisAddr   string

	pgContainer    tc.Container
	redisContainer tc.Container
}

// SetupTestEnvironment starts both containers and applies migrations.
//
//	func TestSomething(t *testing.T) {
//	    env := testutils.SetupTestEnvironment(t)
//	    store := eventstore.NewPostgresStore(env.Postgres)
//	}
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()

	env := &TestEnvironment{}
	t.Cleanup(env.cleanup)

	env.setupPostgres(t)
	env.setupRedis(t)
	return env
}

func (env *TestEnvironment) setupPostgres(t testing.TB) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shortener_test"),
		tcpostgres.WithUsername("shortener"),
		tcpostgres.WithPassword("shortener"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.pgContainer = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	migrator, err := database.NewMigrator(dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	_ = migrator.Close()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
	env.Postgres = database.NewPostgresDBFromPool(pool)
}

func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.redisContainer = container

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	client := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	env.Redis = database.NewRedisDBFromClient(client)
}

// Reset empties every table and the Redis database.
func (env *TestEnvironment) Reset(t testing.TB) {
	t.Helper()
	ctx := context.Background()

	for _, table := range []string{"domain_events", "short_urls"} {
		if _, err := env.Postgres.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
	if err := env.Redis.Client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

func (env *TestEnvironment) cleanup() {
	ctx := context.Background()

	if env.Redis != nil {
		_ = env.Redis.Close()
	}
	if env.Postgres != nil {
		env.Postgres.Close()
	}
	if env.redisContainer != nil {
		_ = env.redisContainer.Terminate(ctx)
	}
	if env.pgContainer != nil {
		_ = env.pgContainer.Terminate(ctx)
	}
}
