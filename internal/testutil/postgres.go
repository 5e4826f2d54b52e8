// Package testutil provides shared testing utilities for the skyport
// project, chiefly a disposable PostgreSQL instance with pgvector.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/skyport0/skyport/db"
)

// TestDB wraps a PostgreSQL test container with a ready connection pool.
// The container runs the pgvector image and carries the full skyport
// schema, so vector similarity queries work out of the box.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a PostgreSQL container, runs the embedded
// migrations against it and returns a connected pool. The cleanup
// function terminates the container and must be deferred by the caller.
//
// Callers should skip under testing.Short() so the unit suite stays
// docker-free.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("skyport_test"),
		postgres.WithUsername("skyport_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		t.Fatalf("resolving connection string: %v", err)
	}

	// Same migrations production runs, against the throwaway database.
	if err := db.Migrate(connStr); err != nil {
		terminate()
		t.Fatalf("migrating test database: %v", err)
	}

	pool, err := newVectorPool(ctx, connStr)
	if err != nil {
		terminate()
		t.Fatalf("connecting to test database: %v", err)
	}

	cleanup := func() {
		pool.Close()
		terminate()
	}
	return &TestDB{Container: container, Pool: pool, ConnStr: connStr}, cleanup
}

// newVectorPool builds a pool that registers pgvector's types on every
// connection, matching the production pool's configuration.
func newVectorPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// TestVector returns a 768-dimension vector with the given value at
// index 0. A second axis is set because a zero vector has undefined
// cosine distance.
func TestVector(lead float32) pgvector.Vector {
	v := make([]float32, 768)
	v[0] = lead
	v[1] = 1
	return pgvector.NewVector(v)
}
