package audio_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/audio/mock"
	"github.com/MrWong99/tartil/pkg/recitation"
)

func TestArbiter_AcquireRevokesPrevious(t *testing.T) {
	t.Parallel()

	var arb audio.Arbiter
	var revoked atomic.Int32
	first, err := arb.Acquire(audio.SourceReference, func() { revoked.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	second, err := arb.Acquire(audio.SourceAttempt, nil)
	if err != nil {
		t.Fatal(err)
	}

	if revoked.Load() != 1 {
		t.Errorf("revoke callback ran %d times, want 1", revoked.Load())
	}
	select {
	case <-first.Done():
	default:
		t.Error("first token not done after revocation")
	}
	if kind, ok := arb.Active(); !ok || kind != audio.SourceAttempt {
		t.Errorf("Active() = %s, %v; want attempt_playback", kind, ok)
	}

	// A stale release must not clear the new holder.
	first.Release()
	if _, ok := arb.Active(); !ok {
		t.Error("stale Release cleared the active token")
	}
	second.Release()
	if _, ok := arb.Active(); ok {
		t.Error("Active() after Release = true")
	}
}

func TestArbiter_CaptureHasPriority(t *testing.T) {
	t.Parallel()

	var arb audio.Arbiter
	var stopped atomic.Bool
	if _, err := arb.Acquire(audio.SourceReference, func() { stopped.Store(true) }); err != nil {
		t.Fatal(err)
	}
	capTok, err := arb.Acquire(audio.SourceCapture, nil)
	if err != nil {
		t.Fatalf("capture Acquire: %v", err)
	}
	if !stopped.Load() {
		t.Error("capture did not stop the playback")
	}

	if _, err := arb.Acquire(audio.SourceReference, nil); !errors.Is(err, audio.ErrAudioBusy) {
		t.Fatalf("playback during capture err = %v, want ErrAudioBusy", err)
	}
	capTok.Release()
	if _, err := arb.Acquire(audio.SourceReference, nil); err != nil {
		t.Fatalf("playback after capture: %v", err)
	}
}

func TestArbiter_AtMostOneActive(t *testing.T) {
	t.Parallel()

	var (
		arb     audio.Arbiter
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	kinds := []audio.SourceKind{audio.SourceReference, audio.SourceAttempt}
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := arb.Acquire(kinds[i%2], func() { active.Add(-1) }); err != nil {
				return
			}
			n := active.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
		}()
	}
	wg.Wait()
	if maxSeen.Load() > 1 {
		t.Fatalf("observed %d simultaneous holders", maxSeen.Load())
	}
}

func TestPlayback_ExclusiveHandles(t *testing.T) {
	t.Parallel()

	arb := &audio.Arbiter{}
	player := &mock.Player{}
	pc := audio.NewPlaybackController(player, arb)
	ctx := context.Background()

	if err := pc.PlayReference(ctx, "verses/112-1.wav"); err != nil {
		t.Fatalf("PlayReference: %v", err)
	}
	seg := &recitation.CapturedAudioSegment{SampleRate: 16000, Channels: 1, Bytes: tone(160, 100)}
	if err := pc.PlayAttempt(ctx, seg); err != nil {
		t.Fatalf("PlayAttempt: %v", err)
	}
	if n := player.Active(); n != 1 {
		t.Fatalf("active handles = %d, want 1", n)
	}
	if !player.Handles[0].Finished() {
		t.Error("reference playback still running after attempt playback started")
	}
	if got := player.PlayCalls[1].Format; got != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("PlayPCM format = %+v", got)
	}

	pc.Stop()
	if n := player.Active(); n != 0 {
		t.Errorf("active handles after Stop = %d, want 0", n)
	}
	if _, ok := arb.Active(); ok {
		t.Error("token held after Stop")
	}
}

func TestPlayback_CaptureStopsPlayback(t *testing.T) {
	t.Parallel()

	arb := &audio.Arbiter{}
	player := &mock.Player{}
	pc := audio.NewPlaybackController(player, arb)
	mic := &mock.Microphone{Granted: true}
	cc := audio.NewCaptureController(mic, arb)
	ctx := context.Background()

	if err := pc.PlayReference(ctx, "ref.wav"); err != nil {
		t.Fatal(err)
	}
	if _, err := cc.RequestAccess(ctx); err != nil {
		t.Fatal(err)
	}
	if err := cc.StartCapture(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	defer cc.Cancel()

	if player.Active() != 0 {
		t.Fatal("reference playback survived capture start")
	}
	if err := pc.PlayReference(ctx, "ref.wav"); !errors.Is(err, audio.ErrAudioBusy) {
		t.Fatalf("PlayReference during capture err = %v, want ErrAudioBusy", err)
	}
}

func TestPlayback_FinishReleasesToken(t *testing.T) {
	t.Parallel()

	arb := &audio.Arbiter{}
	player := &mock.Player{}
	pc := audio.NewPlaybackController(player, arb)

	if err := pc.PlayReference(context.Background(), "ref.wav"); err != nil {
		t.Fatal(err)
	}
	player.LastHandle().Finish(nil)
	waitFor(t, "token release", func() bool {
		_, ok := arb.Active()
		return !ok
	})
	if pc.Playing() {
		t.Error("Playing() = true after finish")
	}
}

func TestPlayback_Errors(t *testing.T) {
	t.Parallel()

	arb := &audio.Arbiter{}
	player := &mock.Player{PlayError: errors.New("no such file")}
	pc := audio.NewPlaybackController(player, arb)
	ctx := context.Background()

	if err := pc.PlayReference(ctx, ""); err == nil {
		t.Error("PlayReference with empty ref succeeded")
	}
	if err := pc.PlayAttempt(ctx, &recitation.CapturedAudioSegment{}); err == nil {
		t.Error("PlayAttempt of released segment succeeded")
	}
	if err := pc.PlayReference(ctx, "missing.wav"); err == nil {
		t.Error("PlayReference with failing player succeeded")
	}
	if _, ok := arb.Active(); ok {
		t.Error("token held after failed playback")
	}
}
