package recitation

import "errors"

// Error taxonomy shared across packages. Callers compare with [errors.Is];
// producers wrap these with context using %w.
var (
	// ErrAccessDenied means microphone access is unavailable. It is
	// user-actionable: the session moves to the blocked phase.
	ErrAccessDenied = errors.New("microphone access denied")

	// ErrAlreadyCapturing is returned when a capture is started while one is
	// already running.
	ErrAlreadyCapturing = errors.New("capture already active")

	// ErrNoActiveCapture is returned when stopping a capture that is not running.
	ErrNoActiveCapture = errors.New("no active capture")

	// ErrTranscriptionFailed wraps any transcriber error.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrTranscriptionTimeout means the transcriber exceeded its bounded wait.
	ErrTranscriptionTimeout = errors.New("transcription timed out")

	// ErrInvalidVerse means canonical verse data is missing or malformed.
	ErrInvalidVerse = errors.New("invalid verse")
)
