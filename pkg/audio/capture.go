package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// CaptureConfig tunes a [CaptureController]. Zero fields take defaults.
type CaptureConfig struct {
	// SampleRate of the captured segment. Default 16000.
	SampleRate int

	// LevelInterval is the loudness sampling period. Default 50ms.
	LevelInterval time.Duration

	// MaxDuration caps a single capture. Default 60s.
	MaxDuration time.Duration
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = 50 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 60 * time.Second
	}
	return c
}

// CaptureOption configures a [CaptureController].
type CaptureOption func(*CaptureController)

// WithCaptureConfig sets sampling and duration limits.
func WithCaptureConfig(cfg CaptureConfig) CaptureOption {
	return func(c *CaptureController) { c.cfg = cfg.withDefaults() }
}

// WithClock overrides the wall clock used for segment timestamps.
func WithClock(now func() time.Time) CaptureOption {
	return func(c *CaptureController) { c.now = now }
}

// CaptureController records one attempt at a time from a [Microphone].
//
// While recording it samples loudness every LevelInterval; the latest value
// is available from Level and is published on Levels. Every exit path
// (StopCapture, Cancel, device failure, context cancellation and the duration
// cap) stops the sampler, closes the device stream and returns the audio
// token.
//
// All methods are safe for concurrent use.
type CaptureController struct {
	mic     Microphone
	arbiter *Arbiter
	cfg     CaptureConfig
	now     func() time.Time

	mu      sync.Mutex
	granted bool
	active  *capture

	level  atomic.Uint64 // math.Float64bits
	levels chan float64
}

// NewCaptureController creates a controller for mic. arbiter may be shared
// with a [PlaybackController] to make capture and playback exclusive.
func NewCaptureController(mic Microphone, arbiter *Arbiter, opts ...CaptureOption) *CaptureController {
	if arbiter == nil {
		arbiter = &Arbiter{}
	}
	c := &CaptureController{
		mic:     mic,
		arbiter: arbiter,
		cfg:     CaptureConfig{}.withDefaults(),
		now:     time.Now,
		levels:  make(chan float64, 16),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestAccess asks the microphone for permission. A denial is remembered
// until the next call.
func (c *CaptureController) RequestAccess(ctx context.Context) (bool, error) {
	granted, err := c.mic.RequestAccess(ctx)
	if err != nil {
		granted = false
	}
	c.mu.Lock()
	c.granted = granted
	c.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("audio: request access: %w", err)
	}
	return granted, nil
}

// StartCapture opens the microphone and begins recording for sessionID.
// It returns [recitation.ErrAlreadyCapturing] while a capture runs and
// [recitation.ErrAccessDenied] when access has not been granted. A finished
// but uncollected segment is released.
//
// The capture ends when ctx is cancelled; the segment is then discarded.
func (c *CaptureController) StartCapture(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		if !c.active.finished() {
			return recitation.ErrAlreadyCapturing
		}
		c.active.discard()
		c.active = nil
	}
	if !c.granted {
		return recitation.ErrAccessDenied
	}

	cp := &capture{
		ctrl:      c,
		sessionID: sessionID,
		startedAt: c.now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		conv:      FormatConverter{Target: Format{SampleRate: c.cfg.SampleRate, Channels: 1}},
	}

	tok, err := c.arbiter.Acquire(SourceCapture, cp.requestStop)
	if err != nil {
		return fmt.Errorf("audio: start capture: %w", err)
	}
	stream, err := c.mic.Open(ctx, cp.conv.Target)
	if err != nil {
		tok.Release()
		return fmt.Errorf("audio: open microphone: %w", err)
	}
	cp.token = tok
	cp.stream = stream
	c.active = cp

	go cp.run(ctx)
	slog.Debug("audio: capture started", "session_id", sessionID)
	return nil
}

// StopCapture ends the running capture and returns its segment. When the
// duration cap already ended the capture, the kept segment is returned.
// It returns [recitation.ErrNoActiveCapture] when nothing was recorded.
func (c *CaptureController) StopCapture() (*recitation.CapturedAudioSegment, error) {
	c.mu.Lock()
	cp := c.active
	c.active = nil
	c.mu.Unlock()

	if cp == nil {
		return nil, recitation.ErrNoActiveCapture
	}
	cp.requestStop()
	<-cp.done
	return cp.seg, cp.err
}

// Cancel ends the running capture, if any, and discards its audio.
func (c *CaptureController) Cancel() {
	c.mu.Lock()
	cp := c.active
	c.active = nil
	c.mu.Unlock()

	if cp == nil {
		return
	}
	cp.requestStop()
	<-cp.done
	cp.discard()
}

// Capturing reports whether a capture is currently recording.
func (c *CaptureController) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && !c.active.finished()
}

// Level returns the latest normalized loudness, or 0 when idle.
func (c *CaptureController) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// Levels returns the stream of sampled loudness values. Slow readers lose
// the oldest values; sending never blocks the sampler.
func (c *CaptureController) Levels() <-chan float64 {
	return c.levels
}

func (c *CaptureController) publishLevel(v float64) {
	c.level.Store(math.Float64bits(v))
	select {
	case c.levels <- v:
		return
	default:
	}
	select {
	case <-c.levels:
	default:
	}
	select {
	case c.levels <- v:
	default:
	}
}

// capture is one recording. Its fields after done is closed are read-only.
type capture struct {
	ctrl      *CaptureController
	sessionID string
	startedAt time.Time
	stream    Stream
	token     *Token
	conv      FormatConverter

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	seg *recitation.CapturedAudioSegment
	err error
}

func (cp *capture) requestStop() {
	cp.stopOnce.Do(func() { close(cp.stopCh) })
}

func (cp *capture) finished() bool {
	select {
	case <-cp.done:
		return true
	default:
		return false
	}
}

func (cp *capture) discard() {
	if cp.seg != nil {
		cp.seg.Release()
	}
}

func (cp *capture) run(ctx context.Context) {
	c := cp.ctrl
	defer close(cp.done)

	maxBytes := int(c.cfg.MaxDuration.Seconds() * float64(cp.conv.Target.BytesPerSecond()))
	buf := make([]byte, 0, min(maxBytes, cp.conv.Target.BytesPerSecond()*10))

	ticker := time.NewTicker(c.cfg.LevelInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.cfg.MaxDuration)
	defer deadline.Stop()

	frames := cp.stream.Frames()
	var (
		lastLevel float64
		reason    string
	)

loop:
	for {
		select {
		case <-cp.stopCh:
			reason = "stopped"
			break loop
		case <-ctx.Done():
			reason = "cancelled"
			break loop
		case <-deadline.C:
			reason = "max_duration"
			break loop
		case <-ticker.C:
			c.publishLevel(lastLevel)
		case f, ok := <-frames:
			if !ok {
				reason = "device_closed"
				break loop
			}
			var full bool
			buf, lastLevel, full = cp.appendFrame(buf, f, maxBytes, lastLevel)
			if full {
				reason = "max_duration"
				break loop
			}
		}
	}

	// Frames the device delivered before the stop request still belong to
	// the attempt.
	if reason == "stopped" {
		buf = cp.flush(frames, buf, maxBytes)
	}

	go Drain(frames)
	if err := cp.stream.Close(); err != nil {
		slog.Warn("audio: close microphone stream", "session_id", cp.sessionID, "err", err)
	}
	cp.token.Release()
	c.publishLevel(0)

	switch reason {
	case "cancelled":
		cp.err = ctx.Err()
		slog.Debug("audio: capture cancelled", "session_id", cp.sessionID)
		return
	case "device_closed":
		if err := cp.stream.Err(); err != nil {
			slog.Warn("audio: microphone stream failed", "session_id", cp.sessionID, "bytes", len(buf), "err", err)
			if len(buf) == 0 {
				cp.err = fmt.Errorf("audio: capture: %w", err)
				return
			}
		}
	}

	rate := cp.conv.Target.SampleRate
	cp.seg = &recitation.CapturedAudioSegment{
		SessionID:  cp.sessionID,
		StartedAt:  cp.startedAt,
		DurationMs: int64(len(buf)/2) * 1000 / int64(rate),
		SampleRate: rate,
		Channels:   1,
		Bytes:      buf,
	}
	slog.Debug("audio: capture finished", "session_id", cp.sessionID, "reason", reason, "duration_ms", cp.seg.DurationMs)
}

func (cp *capture) appendFrame(buf []byte, f AudioFrame, maxBytes int, level float64) ([]byte, float64, bool) {
	f = cp.conv.Convert(f)
	if len(f.Data) == 0 {
		return buf, level, false
	}
	buf = append(buf, f.Data...)
	if len(buf) >= maxBytes {
		return buf[:maxBytes], Level(f.Data), true
	}
	return buf, Level(f.Data), false
}

func (cp *capture) flush(frames <-chan AudioFrame, buf []byte, maxBytes int) []byte {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return buf
			}
			var full bool
			buf, _, full = cp.appendFrame(buf, f, maxBytes, 0)
			if full {
				return buf
			}
		default:
			return buf
		}
	}
}
