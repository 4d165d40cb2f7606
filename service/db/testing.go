package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDatabaseURLEnv names the variable pointing tests at a disposable database.
// Tests that need Postgres are skipped when it is unset.
const TestDatabaseURLEnv = "TEST_DATABASE_URL"

// OpenTestStore connects to the test database, migrates it and empties the cursor
// table. The pool is closed and the table emptied again when t finishes.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv(TestDatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", TestDatabaseURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	store := NewStore(pool, nil)
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("test database unreachable: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrate test database: %v", err)
	}

	truncate := func() {
		if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE program_cursors"); err != nil {
			t.Errorf("truncate program_cursors: %v", err)
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		pool.Close()
	})
	return store
}
