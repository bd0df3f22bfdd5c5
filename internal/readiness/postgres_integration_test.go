package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/stackctl/internal/logger"
)

func TestPostgresProbe_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("ibalgo"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	probe := PostgresProbe{DSN: dsn, Timeout: 2 * time.Second}
	if err := WaitUntilReady(ctx, probe, PollPolicy{MaxIterations: 10, Interval: 500 * time.Millisecond}, logger.Discard()); err != nil {
		t.Fatalf("postgres never became ready: %v", err)
	}
}
