// Package audio owns everything that touches sound in a practice session:
// microphone capture with live loudness levels, reference and attempt
// playback, and the exclusive-audio [Arbiter] that guarantees at most one
// of them is active at a time.
//
// The device abstractions are:
//
//   - [Microphone] grants access and opens a PCM [Stream].
//   - [Player] plays a reference recording or raw PCM and returns a [Handle].
//
// Implementations live in sub-packages (audio/pulse for PulseAudio,
// audio/mock for tests). This package lives under pkg/ because other device
// backends are expected to implement these interfaces.
package audio

import "context"

// Microphone is an input device.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// RequestAccess asks for permission to record. It returns false with a
	// nil error when access is denied, and an error only when the device
	// could not be queried at all. Repeated calls re-check access.
	RequestAccess(ctx context.Context) (bool, error)

	// Open starts a capture stream in the requested format. Implementations
	// may deliver frames in another format; callers convert. ctx governs the
	// open call only.
	Open(ctx context.Context, format Format) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	// Frames delivers captured audio. The channel is closed after Close or
	// when the device fails; Err then reports the failure, if any.
	Frames() <-chan AudioFrame

	// Err returns the error that terminated the stream, or nil.
	Err() error

	// Close stops the device. It is safe to call more than once.
	Close() error
}

// Handle identifies one playback started by a [Player].
type Handle interface {
	// Done is closed when playback finishes or is stopped.
	Done() <-chan struct{}

	// Err reports a playback failure after Done is closed.
	Err() error
}

// Player is an output device.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play starts playing the recording located by ref. ctx governs the
	// start only; playback runs until it finishes or Stop is called.
	Play(ctx context.Context, ref string) (Handle, error)

	// PlayPCM starts playing raw 16-bit PCM in the given format.
	PlayPCM(ctx context.Context, pcm []byte, format Format) (Handle, error)

	// Stop halts the playback identified by h. Stopping a finished handle
	// is a no-op.
	Stop(h Handle) error
}
