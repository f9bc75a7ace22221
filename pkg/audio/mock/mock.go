// Package mock provides in-memory implementations of [audio.Microphone],
// [audio.Stream], [audio.Player] and [audio.Handle] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	stream := mock.NewStream(16)
//	mic := &mock.Microphone{Granted: true, OpenResult: stream}
//	ctrl := audio.NewCaptureController(mic, nil)
//	stream.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tartil/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Granted is returned by RequestAccess.
	Granted bool

	// AccessError is returned by RequestAccess.
	AccessError error

	// OpenResult is returned by Open. When nil or already closed, Open
	// creates a new Stream with a 64-frame buffer and stores it here.
	OpenResult *Stream

	// OpenError is returned by Open.
	OpenError error

	// CallCountRequestAccess records how many times RequestAccess was called.
	CallCountRequestAccess int

	// OpenCalls records the format of every Open call.
	OpenCalls []audio.Format
}

// RequestAccess implements [audio.Microphone].
func (m *Microphone) RequestAccess(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountRequestAccess++
	return m.Granted, m.AccessError
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, format audio.Format) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, format)
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.OpenResult == nil || m.OpenResult.Closed() {
		m.OpenResult = NewStream(64)
	}
	return m.OpenResult, nil
}

// SetGranted changes the access answer between calls.
func (m *Microphone) SetGranted(granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Granted = granted
}

// Stream returns the stream handed out by the last Open, or nil.
func (m *Microphone) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenResult
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Frames are injected
// with Push; Fail simulates a device error.
type Stream struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool
	err    error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns an open stream with the given frame buffer.
func NewStream(buffer int) *Stream {
	return &Stream{frames: make(chan audio.AudioFrame, buffer)}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closeLocked()
	return nil
}

// Closed reports whether Close or Fail has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers a frame. It reports false when the stream is closed or the
// buffer is full.
func (s *Stream) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Fail terminates the stream with err.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records one Play or PlayPCM invocation.
type PlayCall struct {
	// Ref is the reference passed to Play; empty for PlayPCM.
	Ref string

	// PCM is the audio passed to PlayPCM; nil for Play.
	PCM []byte

	Format audio.Format
}

// Player is a mock implementation of [audio.Player]. Playbacks run until
// stopped or finished with [Handle.Finish].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play and PlayPCM.
	PlayError error

	// PlayCalls records every playback start.
	PlayCalls []PlayCall

	// Handles lists every handle returned, in order.
	Handles []*Handle

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, ref string) (audio.Handle, error) {
	return p.start(PlayCall{Ref: ref})
}

// PlayPCM implements [audio.Player].
func (p *Player) PlayPCM(_ context.Context, pcm []byte, format audio.Format) (audio.Handle, error) {
	return p.start(PlayCall{PCM: pcm, Format: format})
}

func (p *Player) start(call PlayCall) (audio.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = append(p.PlayCalls, call)
	if p.PlayError != nil {
		return nil, p.PlayError
	}
	h := NewHandle()
	p.Handles = append(p.Handles, h)
	return h, nil
}

// Stop implements [audio.Player].
func (p *Player) Stop(h audio.Handle) error {
	p.mu.Lock()
	p.CallCountStop++
	p.mu.Unlock()
	if mh, ok := h.(*Handle); ok {
		mh.Finish(nil)
	}
	return nil
}

// Active returns the number of handles that have not finished.
func (p *Player) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.Handles {
		if !h.Finished() {
			n++
		}
	}
	return n
}

// LastHandle returns the most recent handle, or nil.
func (p *Player) LastHandle() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Handles) == 0 {
		return nil
	}
	return p.Handles[len(p.Handles)-1]
}

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [audio.Handle].
type Handle struct {
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewHandle returns a running handle.
func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done implements [audio.Handle].
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err implements [audio.Handle].
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Finish ends the playback with err. Later calls are no-ops.
func (h *Handle) Finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

// Finished reports whether the handle has ended.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
