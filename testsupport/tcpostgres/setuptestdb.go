package tcpostgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"

	"github.com/mpapenbr/simcoach/pkg/db/migrate"
	database "github.com/mpapenbr/simcoach/pkg/db/postgres"
)

// SetupTestDB starts (or reuses) a postgres container, applies the migrations
// and returns a pool for it. The test is skipped if no container provider is
// available.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	dbURL, err := startTelemetryDB(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err = migrate.MigrateDB(dbURL); err != nil {
		t.Fatal(err)
	}

	pool, err := database.InitWithURL(ctx, dbURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// ClearTelemetryTable removes all stored points.
func ClearTelemetryTable(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "delete from telemetry_point"); err != nil {
		t.Fatal(err)
	}
}
