// Package postgres provides a PostgreSQL-backed [progress.Recorder].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.RecordOutcome(ctx, outcome)
//	best, _ := store.BestAccuracy(ctx, "112:1")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAttemptOutcomes = `
CREATE TABLE IF NOT EXISTS attempt_outcomes (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL DEFAULT '',
    verse_id        TEXT         NOT NULL,
    attempt_number  INTEGER      NOT NULL,
    accuracy        INTEGER      NOT NULL CHECK (accuracy BETWEEN 0 AND 100),
    tier            TEXT         NOT NULL DEFAULT '',
    degraded        BOOLEAN      NOT NULL DEFAULT false,
    recorded_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_attempt_outcomes_verse
    ON attempt_outcomes (verse_id) WHERE NOT degraded;

CREATE INDEX IF NOT EXISTS idx_attempt_outcomes_session
    ON attempt_outcomes (session_id);
`

// Migrate creates the outcome table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlAttemptOutcomes); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
