// Package progress defines the collaborator that persists practice outcomes.
//
// The practice controller reports one [Outcome] per attempt when a session
// completes and asks for the learner's best accuracy when a session starts.
// Nothing in the engine depends on how outcomes are stored; the spaced
// repetition scheduler and statistics views read them elsewhere.
//
// Implementations live in sub-packages: postgres (pgx), file (JSON lines)
// and mock (tests).
package progress

import (
	"context"
	"time"
)

// Outcome is the persisted summary of one scored attempt.
type Outcome struct {
	SessionID     string    `json:"session_id"`
	VerseID       string    `json:"verse_id"`
	AttemptNumber int       `json:"attempt_number"`
	Accuracy      int       `json:"accuracy"`
	Tier          string    `json:"tier"`
	Degraded      bool      `json:"degraded"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recorder persists attempt outcomes.
//
// BestAccuracy returns nil when no non-degraded outcome exists for the
// verse. Degraded outcomes carry a placeholder accuracy and never count.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
	BestAccuracy(ctx context.Context, verseID string) (*int, error)
}

// Nop is a [Recorder] that stores nothing. It backs the "none" progress
// backend.
type Nop struct{}

var _ Recorder = Nop{}

// RecordOutcome implements [Recorder]. It discards o.
func (Nop) RecordOutcome(context.Context, Outcome) error { return nil }

// BestAccuracy implements [Recorder]. It always returns nil.
func (Nop) BestAccuracy(context.Context, string) (*int, error) { return nil, nil }
