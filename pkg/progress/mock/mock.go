// Package mock provides an in-memory [progress.Recorder] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tartil/pkg/progress"
)

var _ progress.Recorder = (*Recorder)(nil)

// Recorder stores outcomes in memory and records every call.
//
// Set RecordErr or BestErr to make the corresponding method fail. Best, when
// non-nil, overrides the computed best accuracy.
type Recorder struct {
	mu sync.Mutex

	RecordErr error
	BestErr   error
	Best      *int

	outcomes  []progress.Outcome
	bestCalls []string
	recorded  chan struct{}
}

// New returns a Recorder whose Recorded channel receives one value per
// successful RecordOutcome.
func New() *Recorder {
	return &Recorder{recorded: make(chan struct{}, 64)}
}

// RecordOutcome implements [progress.Recorder].
func (r *Recorder) RecordOutcome(_ context.Context, o progress.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RecordErr != nil {
		return r.RecordErr
	}
	r.outcomes = append(r.outcomes, o)
	if r.recorded != nil {
		select {
		case r.recorded <- struct{}{}:
		default:
		}
	}
	return nil
}

// BestAccuracy implements [progress.Recorder].
func (r *Recorder) BestAccuracy(_ context.Context, verseID string) (*int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bestCalls = append(r.bestCalls, verseID)
	if r.BestErr != nil {
		return nil, r.BestErr
	}
	if r.Best != nil {
		v := *r.Best
		return &v, nil
	}
	var best *int
	for _, o := range r.outcomes {
		if o.VerseID != verseID || o.Degraded {
			continue
		}
		if best == nil || o.Accuracy > *best {
			acc := o.Accuracy
			best = &acc
		}
	}
	return best, nil
}

// Recorded signals each stored outcome. It is nil for a zero-value Recorder.
func (r *Recorder) Recorded() <-chan struct{} { return r.recorded }

// Outcomes returns a copy of every stored outcome.
func (r *Recorder) Outcomes() []progress.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.outcomes)
}

// BestCalls returns the verse IDs passed to BestAccuracy.
func (r *Recorder) BestCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.bestCalls)
}
