// Package pulse implements [audio.Microphone] and [audio.Player] on a
// PulseAudio (or PipeWire-Pulse) server.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/MrWong99/tartil/pkg/audio"
)

const (
	appName = "tartil"

	// 20 ms at 16 kHz mono s16.
	fragmentBytes = 640
)

// Compile-time interface checks.
var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Player     = (*Player)(nil)
)

func newClient() (*pulse.Client, error) {
	c, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse: connect server: %w", err)
	}
	return c, nil
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures from one Pulse source.
type Microphone struct {
	// Source is the Pulse source name. Empty selects the server default.
	Source string
}

// NewMicrophone returns a microphone for the named source ("" for default).
func NewMicrophone(source string) *Microphone {
	return &Microphone{Source: source}
}

// RequestAccess reports whether the source exists and is not muted. Pulse has
// no permission prompt; an unreachable server is an error, a missing or
// muted source is a denial.
func (m *Microphone) RequestAccess(_ context.Context) (bool, error) {
	client, err := newClient()
	if err != nil {
		return false, err
	}
	defer client.Close()

	src, err := m.resolve(client)
	if err != nil {
		slog.Warn("pulse: source unavailable", "source", m.Source, "err", err)
		return false, nil
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return false, fmt.Errorf("pulse: list sources: %w", err)
	}
	for _, info := range infos {
		if info == nil || info.SourceName != src.ID() {
			continue
		}
		if info.Mute {
			slog.Warn("pulse: source muted", "source", src.ID())
			return false, nil
		}
	}
	return true, nil
}

func (m *Microphone) resolve(client *pulse.Client) (*pulse.Source, error) {
	if m.Source == "" || m.Source == "default" {
		return client.DefaultSource()
	}
	return client.SourceByID(m.Source)
}

// Open starts a mono 16-bit record stream at format.SampleRate.
func (m *Microphone) Open(_ context.Context, format audio.Format) (audio.Stream, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	src, err := m.resolve(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: resolve source %q: %w", m.Source, err)
	}

	s := &stream{
		client: client,
		format: audio.Format{SampleRate: format.SampleRate, Channels: 1},
		frames: make(chan audio.AudioFrame, 128),
		stopCh: make(chan struct{}),
	}
	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	rec, err := client.NewRecord(
		writer,
		pulse.RecordSource(src),
		pulse.RecordMono,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("tartil recitation"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create record stream: %w", err)
	}
	s.rec = rec
	rec.Start()
	return s, nil
}

// stream adapts a Pulse record stream to [audio.Stream].
type stream struct {
	client *pulse.Client
	rec    *pulse.RecordStream
	format audio.Format
	frames chan audio.AudioFrame

	mu       sync.Mutex
	stopCh   chan struct{}
	stopped  bool
	inflight sync.WaitGroup
	written  int64
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) Err() error {
	if s.rec == nil {
		return nil
	}
	return s.rec.Error()
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.rec.Stop()
	s.rec.Close()
	s.client.Close()

	s.inflight.Wait()
	close(s.frames)
	return nil
}

func (s *stream) onPCM(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.inflight.Add(1)
	offset := s.written
	s.written += int64(len(buf))
	s.mu.Unlock()
	defer s.inflight.Done()

	data := make([]byte, len(buf))
	copy(data, buf)
	f := audio.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   1,
		Timestamp:  bytesToDuration(offset, s.format),
	}
	select {
	case <-s.stopCh:
		return 0, io.EOF
	case s.frames <- f:
	}
	return len(buf), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

// ─── Player ───────────────────────────────────────────────────────────────────

// Player plays 16-bit PCM and WAV reference files on the default sink.
type Player struct {
	// Open resolves a reference to a WAV stream. Defaults to os.Open.
	Open func(ref string) (io.ReadCloser, error)
}

// NewPlayer returns a player that reads references from the filesystem.
func NewPlayer() *Player {
	return &Player{}
}

// Play decodes the WAV file at ref and plays it.
func (p *Player) Play(ctx context.Context, ref string) (audio.Handle, error) {
	open := p.Open
	if open == nil {
		open = func(ref string) (io.ReadCloser, error) { return os.Open(ref) }
	}
	rc, err := open(ref)
	if err != nil {
		return nil, fmt.Errorf("pulse: open reference %q: %w", ref, err)
	}
	defer rc.Close()

	pcm, f, err := audio.DecodeWAV(rc)
	if err != nil {
		return nil, fmt.Errorf("pulse: reference %q: %w", ref, err)
	}
	return p.PlayPCM(ctx, pcm, f)
}

// PlayPCM plays raw 16-bit PCM. Multichannel input is downmixed.
func (p *Player) PlayPCM(_ context.Context, pcm []byte, format audio.Format) (audio.Handle, error) {
	if format.Channels < 1 {
		return nil, fmt.Errorf("pulse: unsupported channel count %d", format.Channels)
	}
	pcm = audio.Downmix(pcm, format.Channels)

	client, err := newClient()
	if err != nil {
		return nil, err
	}

	h := &handle{done: make(chan struct{})}
	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if h.stopped.Load() {
			return 0, pulse.EndOfData
		}
		n := 0
		for n < len(buf) && cursor+1 < len(pcm) {
			buf[n] = int16(uint16(pcm[cursor]) | uint16(pcm[cursor+1])<<8)
			cursor += 2
			n++
		}
		if cursor+1 >= len(pcm) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	ps, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("tartil playback"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create playback stream: %w", err)
	}
	ps.Start()
	go func() {
		ps.Drain()
		err := ps.Error()
		ps.Close()
		client.Close()
		h.finish(err)
	}()
	return h, nil
}

// Stop halts playback started by this player.
func (p *Player) Stop(h audio.Handle) error {
	ph, ok := h.(*handle)
	if !ok {
		return errors.New("pulse: foreign playback handle")
	}
	// Ending the reader lets Drain return once the buffered latency plays out.
	ph.stopped.Store(true)
	return nil
}

type handle struct {
	stopped atomic.Bool

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func bytesToDuration(n int64, f audio.Format) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}
