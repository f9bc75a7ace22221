package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// PlaybackController plays reference and attempt audio through a [Player]
// while holding the session's audio token. Starting a playback stops the one
// before it; a capture revokes playback.
type PlaybackController struct {
	player  Player
	arbiter *Arbiter

	mu      sync.Mutex
	current *playback
}

// NewPlaybackController creates a controller. arbiter should be the one
// shared with the session's [CaptureController].
func NewPlaybackController(player Player, arbiter *Arbiter) *PlaybackController {
	if arbiter == nil {
		arbiter = &Arbiter{}
	}
	return &PlaybackController{player: player, arbiter: arbiter}
}

// PlayReference plays the reference recitation located by ref.
func (p *PlaybackController) PlayReference(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("audio: play reference: no audio reference")
	}
	return p.play(ctx, SourceReference, func(ctx context.Context) (Handle, error) {
		return p.player.Play(ctx, ref)
	})
}

// PlayAttempt plays back a recorded attempt.
func (p *PlaybackController) PlayAttempt(ctx context.Context, seg *recitation.CapturedAudioSegment) error {
	if seg == nil || seg.Released() {
		return fmt.Errorf("audio: play attempt: segment has no audio")
	}
	f := Format{SampleRate: seg.SampleRate, Channels: seg.Channels}
	return p.play(ctx, SourceAttempt, func(ctx context.Context) (Handle, error) {
		return p.player.PlayPCM(ctx, seg.Bytes, f)
	})
}

// Stop halts the current playback, if any.
func (p *PlaybackController) Stop() {
	p.mu.Lock()
	pb := p.current
	p.current = nil
	p.mu.Unlock()
	if pb != nil {
		pb.stop()
		pb.token.Release()
	}
}

// Playing reports whether a playback is in progress.
func (p *PlaybackController) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	select {
	case <-p.current.token.Done():
		return false
	default:
		return true
	}
}

func (p *PlaybackController) play(ctx context.Context, kind SourceKind, start func(context.Context) (Handle, error)) error {
	pb := &playback{player: p.player}
	tok, err := p.arbiter.Acquire(kind, pb.stop)
	if err != nil {
		return fmt.Errorf("audio: play %s: %w", kind, err)
	}
	pb.token = tok

	h, err := start(ctx)
	if err != nil {
		tok.Release()
		return fmt.Errorf("audio: play %s: %w", kind, err)
	}
	pb.attach(h)

	p.mu.Lock()
	p.current = pb
	p.mu.Unlock()

	go func() {
		select {
		case <-h.Done():
			if err := h.Err(); err != nil {
				slog.Warn("audio: playback failed", "kind", kind, "err", err)
			}
			tok.Release()
		case <-tok.Done():
		}
	}()
	return nil
}

// playback links a player handle to its token. A revocation that arrives
// before the handle exists stops the handle as soon as it is attached.
type playback struct {
	player Player
	token  *Token

	mu      sync.Mutex
	handle  Handle
	stopped bool
}

func (pb *playback) attach(h Handle) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.handle = h
	if pb.stopped {
		pb.stopHandle()
	}
}

func (pb *playback) stop() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.stopped {
		return
	}
	pb.stopped = true
	pb.stopHandle()
}

func (pb *playback) stopHandle() {
	if pb.handle == nil {
		return
	}
	if err := pb.player.Stop(pb.handle); err != nil {
		slog.Warn("audio: stop playback", "err", err)
	}
}
