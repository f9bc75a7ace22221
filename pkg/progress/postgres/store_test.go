package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tartil/pkg/progress"
	"github.com/MrWong99/tartil/pkg/progress/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if TARTIL_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TARTIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TARTIL_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on an empty table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS attempt_outcomes CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_RecordAndBest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	best, err := store.BestAccuracy(ctx, "112:1")
	if err != nil {
		t.Fatalf("BestAccuracy empty: %v", err)
	}
	if best != nil {
		t.Fatalf("BestAccuracy empty = %d, want nil", *best)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, o := range []progress.Outcome{
		{SessionID: "s1", VerseID: "112:1", AttemptNumber: 1, Accuracy: 50, Tier: "needs_practice", Timestamp: ts},
		{SessionID: "s1", VerseID: "112:1", AttemptNumber: 2, Accuracy: 88, Tier: "good", Timestamp: ts.Add(time.Minute)},
		{SessionID: "s1", VerseID: "112:1", AttemptNumber: 3, Accuracy: 100, Degraded: true, Timestamp: ts.Add(2 * time.Minute)},
	} {
		if err := store.RecordOutcome(ctx, o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	best, err = store.BestAccuracy(ctx, "112:1")
	if err != nil {
		t.Fatalf("BestAccuracy: %v", err)
	}
	if best == nil || *best != 88 {
		t.Errorf("BestAccuracy = %v, want 88", best)
	}

	outcomes, err := store.Outcomes(ctx, "s1")
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("Outcomes len = %d, want 3", len(outcomes))
	}
	if outcomes[1].Tier != "good" || !outcomes[1].Timestamp.Equal(ts.Add(time.Minute)) {
		t.Errorf("outcome[1] = %+v", outcomes[1])
	}
	if !outcomes[2].Degraded {
		t.Error("outcome[2] should be degraded")
	}
}

func TestStore_RejectsOutOfRangeAccuracy(t *testing.T) {
	store := newTestStore(t)
	err := store.RecordOutcome(context.Background(), progress.Outcome{VerseID: "1:1", Accuracy: 101})
	if err == nil {
		t.Fatal("expected check constraint violation")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)

	pool, err := pgxpool.New(context.Background(), testDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(context.Background(), pool); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}
