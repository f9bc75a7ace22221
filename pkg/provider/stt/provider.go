// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber turns one finished [recitation.CapturedAudioSegment] into the
// word sequence it heard. The result is untrusted: words may be misspelled,
// merged, dropped or invented, and the aligner downstream is built to cope
// with that. Backends live in sub-packages (whisper, deepgram, openai) and
// test doubles in mock.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation promptly; the practice controller bounds every call with a
// deadline.
package stt

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// ErrEmptySegment is returned when a segment carries no audio.
var ErrEmptySegment = errors.New("stt: empty audio segment")

// Transcriber converts a captured attempt into words.
type Transcriber interface {
	// Transcribe returns the words heard in seg in spoken order. An empty,
	// non-nil slice means the backend heard nothing; that is not an error.
	// The segment is read but never released by the transcriber.
	Transcribe(ctx context.Context, seg *recitation.CapturedAudioSegment) ([]recitation.TranscribedWord, error)
}

// StreamTranscriber is implemented by backends that can report interim
// results while a segment is being processed. onPartial receives the full
// word sequence known so far and is called from the backend's goroutine; it
// must not block.
type StreamTranscriber interface {
	Transcriber
	TranscribeStream(ctx context.Context, seg *recitation.CapturedAudioSegment, onPartial func([]recitation.TranscribedWord)) ([]recitation.TranscribedWord, error)
}

// SplitWords splits a plain transcript into words. Punctuation attached to a
// word is trimmed; tokens made only of punctuation are dropped.
func SplitWords(text string) []recitation.TranscribedWord {
	fields := strings.Fields(text)
	out := make([]recitation.TranscribedWord, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f == "" {
			continue
		}
		out = append(out, recitation.TranscribedWord{Text: f})
	}
	return out
}

// CheckSegment returns [ErrEmptySegment] when seg holds no audio.
func CheckSegment(seg *recitation.CapturedAudioSegment) error {
	if seg.Released() || len(seg.Bytes) == 0 {
		return ErrEmptySegment
	}
	return nil
}
