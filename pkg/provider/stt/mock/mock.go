// Package mock provides test doubles for the stt package interfaces.
//
// Transcriber returns a canned word sequence (or error) and records every
// segment it was asked to transcribe. Setting Delay lets tests exercise the
// caller's timeout handling; the mock honours ctx while waiting.
//
// Example:
//
//	tr := &mock.Transcriber{Words: recitation.Words("qul", "huwa")}
//	words, _ := tr.Transcribe(ctx, seg)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/tartil/pkg/provider/stt"
	"github.com/MrWong99/tartil/pkg/recitation"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// SessionID and Bytes are copied from the segment at call time.
	SessionID string
	Bytes     []byte
}

// Transcriber is a mock implementation of stt.StreamTranscriber.
type Transcriber struct {
	mu sync.Mutex

	// Words is returned by Transcribe. Nil is returned as an empty slice.
	Words []recitation.TranscribedWord

	// Partials are delivered to onPartial, in order, by TranscribeStream.
	Partials [][]recitation.TranscribedWord

	// Err, if non-nil, is returned instead of Words.
	Err error

	// Delay holds every call for this long, or until ctx is done.
	Delay time.Duration

	// Calls records every call in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Words or Err.
func (m *Transcriber) Transcribe(ctx context.Context, seg *recitation.CapturedAudioSegment) ([]recitation.TranscribedWord, error) {
	return m.TranscribeStream(ctx, seg, nil)
}

// TranscribeStream behaves like Transcribe and additionally feeds Partials
// to onPartial.
func (m *Transcriber) TranscribeStream(ctx context.Context, seg *recitation.CapturedAudioSegment, onPartial func([]recitation.TranscribedWord)) ([]recitation.TranscribedWord, error) {
	m.mu.Lock()
	call := TranscribeCall{Ctx: ctx}
	if seg != nil {
		call.SessionID = seg.SessionID
		call.Bytes = slices.Clone(seg.Bytes)
	}
	m.Calls = append(m.Calls, call)
	words, partials, err, delay := slices.Clone(m.Words), m.Partials, m.Err, m.Delay
	m.mu.Unlock()

	if onPartial != nil {
		for _, p := range partials {
			onPartial(slices.Clone(p))
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	if words == nil {
		words = []recitation.TranscribedWord{}
	}
	return words, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Set replaces the canned result. Thread-safe.
func (m *Transcriber) Set(words []recitation.TranscribedWord, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Words = words
	m.Err = err
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Ensure Transcriber implements stt.StreamTranscriber at compile time.
var _ stt.StreamTranscriber = (*Transcriber)(nil)
