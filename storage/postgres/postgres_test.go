package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironca/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("IRONCA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("IRONCA_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM records") //nolint:errcheck

	return NewRepository(pool), func() {
		pool.Exec(ctx, "DELETE FROM records") //nolint:errcheck
		pool.Close()
	}
}

func TestPostgresStorage(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	storagetest.Run(t, s, "ns1")
}
