// Package testutil provides shared helpers for integration tests.
// Helpers skip the calling test when TEST_DATABASE_URL is not set, so unit
// tests run without a database.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nekogravitycat/campsite-booking-backend/internal/db"
)

var (
	migrateOnce sync.Once
	migrateErr  error
)

// NewPool returns a pool on a migrated test database and truncates the
// application tables. The pool is closed when the test finishes.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	migrateOnce.Do(func() {
		migrateErr = db.Migrate(ctx, dsn)
	})
	if migrateErr != nil {
		t.Fatalf("testutil.NewPool: migrate: %v", migrateErr)
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("testutil.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	ClearTables(t, pool)
	return pool
}

// ClearTables empties every application table.
func ClearTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	const q = "TRUNCATE TABLE public.transactions, public.bookings, public.spots, public.users CASCADE"
	if _, err := pool.Exec(context.Background(), q); err != nil {
		t.Fatalf("testutil.ClearTables: %v", err)
	}
}

// InsertUser creates a user row and returns its id.
func InsertUser(t *testing.T, pool *pgxpool.Pool, email string, isAdmin bool) string {
	t.Helper()

	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO public.users (email, display_name, is_system_admin) VALUES ($1, $1, $2) RETURNING id`,
		email, isAdmin,
	).Scan(&id)
	if err != nil {
		t.Fatalf("testutil.InsertUser: %v", err)
	}
	return id
}

// InsertSpot creates a spot owned by ownerID and returns its id.
func InsertSpot(t *testing.T, pool *pgxpool.Pool, ownerID, name string, pricePerNight int64, capacity int) string {
	t.Helper()

	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO public.spots (owner_id, name, price_per_night, capacity) VALUES ($1, $2, $3, $4) RETURNING id`,
		ownerID, name, pricePerNight, capacity,
	).Scan(&id)
	if err != nil {
		t.Fatalf("testutil.InsertSpot: %v", err)
	}
	return id
}
