// Package file persists practice outcomes as append-only JSON lines in a
// local file, suitable for a single learner on one machine.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/tartil/pkg/progress"
)

// Compile-time interface check.
var _ progress.Recorder = (*Store)(nil)

// Store persists outcomes as JSON lines in a local file.
// Thread-safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store that writes to path. The file is created on the first
// write.
func New(path string) *Store {
	return &Store{path: path}
}

// RecordOutcome implements [progress.Recorder]. It appends o to the file.
func (s *Store) RecordOutcome(ctx context.Context, o progress.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("progress file: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("progress file: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("progress file: write: %w", err)
	}
	return nil
}

// BestAccuracy implements [progress.Recorder]. It scans the whole file;
// malformed lines are skipped with a warning.
func (s *Store) BestAccuracy(ctx context.Context, verseID string) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress file: open: %w", err)
	}
	defer f.Close()

	var best *int
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var o progress.Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			slog.Warn("progress file: skipping malformed line", "path", s.path, "line", line, "err", err)
			continue
		}
		if o.VerseID != verseID || o.Degraded {
			continue
		}
		if best == nil || o.Accuracy > *best {
			acc := o.Accuracy
			best = &acc
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("progress file: read: %w", err)
	}
	return best, nil
}
