package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/tartil/pkg/provider/stt"
	"github.com/MrWong99/tartil/pkg/recitation"
)

// TranscriberFallback implements [stt.StreamTranscriber] with automatic
// failover across several transcription backends. Each backend has its own
// circuit breaker. Backends that cannot stream are called through plain
// Transcribe and report no interim results.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.StreamTranscriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = transcriberFailure
	}
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// transcriberFailure keeps empty segments from tripping breakers; they are
// the caller's mistake, not the backend's.
func transcriberFailure(err error) bool {
	return DefaultIsFailure(err) && !isEmptySegment(err)
}

func isEmptySegment(err error) bool {
	return errors.Is(err, stt.ErrEmptySegment)
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States reports the circuit state of every backend.
func (f *TranscriberFallback) States() []EntryState {
	return f.group.States()
}

// Transcribe runs seg through the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, seg *recitation.CapturedAudioSegment) ([]recitation.TranscribedWord, error) {
	return f.TranscribeStream(ctx, seg, nil)
}

// TranscribeStream runs seg through the first healthy backend, streaming
// interim results when that backend supports it.
func (f *TranscriberFallback) TranscribeStream(ctx context.Context, seg *recitation.CapturedAudioSegment, onPartial func([]recitation.TranscribedWord)) ([]recitation.TranscribedWord, error) {
	if err := stt.CheckSegment(seg); err != nil {
		return nil, err
	}
	words, name, err := ExecuteWithResult(f.group, func(name string, t stt.Transcriber) ([]recitation.TranscribedWord, error) {
		if st, ok := t.(stt.StreamTranscriber); ok && onPartial != nil {
			return st.TranscribeStream(ctx, seg, onPartial)
		}
		return t.Transcribe(ctx, seg)
	})
	if err != nil {
		return nil, fmt.Errorf("resilience: transcribe: %w", err)
	}
	slog.Debug("transcribed attempt", "backend", name, "session_id", seg.SessionID, "words", len(words))
	return words, nil
}
