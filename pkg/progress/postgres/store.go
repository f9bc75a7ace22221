package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tartil/pkg/progress"
)

// Compile-time interface check.
var _ progress.Recorder = (*Store)(nil)

// Store records attempt outcomes in the attempt_outcomes table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("progress store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("progress store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. It backs the readiness
// probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordOutcome implements [progress.Recorder].
func (s *Store) RecordOutcome(ctx context.Context, o progress.Outcome) error {
	const q = `
		INSERT INTO attempt_outcomes
		    (session_id, verse_id, attempt_number, accuracy, tier, degraded, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, q,
		o.SessionID,
		o.VerseID,
		o.AttemptNumber,
		o.Accuracy,
		o.Tier,
		o.Degraded,
		ts,
	)
	if err != nil {
		return fmt.Errorf("progress store: record outcome: %w", err)
	}
	return nil
}

// BestAccuracy implements [progress.Recorder].
func (s *Store) BestAccuracy(ctx context.Context, verseID string) (*int, error) {
	const q = `
		SELECT max(accuracy)
		FROM   attempt_outcomes
		WHERE  verse_id = $1 AND NOT degraded`

	var best *int
	if err := s.pool.QueryRow(ctx, q, verseID).Scan(&best); err != nil {
		return nil, fmt.Errorf("progress store: best accuracy: %w", err)
	}
	return best, nil
}

// Outcomes returns every outcome recorded for sessionID, oldest first.
func (s *Store) Outcomes(ctx context.Context, sessionID string) ([]progress.Outcome, error) {
	const q = `
		SELECT session_id, verse_id, attempt_number, accuracy, tier, degraded, recorded_at
		FROM   attempt_outcomes
		WHERE  session_id = $1
		ORDER  BY attempt_number, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("progress store: outcomes: %w", err)
	}
	defer rows.Close()

	var out []progress.Outcome
	for rows.Next() {
		var o progress.Outcome
		if err := rows.Scan(&o.SessionID, &o.VerseID, &o.AttemptNumber, &o.Accuracy, &o.Tier, &o.Degraded, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("progress store: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progress store: outcomes: %w", err)
	}
	return out, nil
}
