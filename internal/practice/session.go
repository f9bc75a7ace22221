package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tartil/internal/align"
	"github.com/MrWong99/tartil/internal/feedback"
	"github.com/MrWong99/tartil/internal/observe"
	"github.com/MrWong99/tartil/internal/tajweed"
	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/progress"
	"github.com/MrWong99/tartil/pkg/provider/stt"
	"github.com/MrWong99/tartil/pkg/recitation"
)

// flushTimeout bounds the background write of a completed session's history.
const flushTimeout = 30 * time.Second

// Session drives one practice session through its phases. All methods are
// safe for concurrent use; actions are applied one at a time, except that
// cancel may interrupt a running analysis.
type Session struct {
	deps *deps

	verse recitation.CanonicalVerse
	ctx   context.Context // cancelled when the session ends
	stop  context.CancelFunc

	capture  *audio.CaptureController
	playback *audio.PlaybackController

	mu            sync.Mutex
	state         recitation.PracticeSession
	endedAt       time.Time
	capturing     bool
	segment       *recitation.CapturedAudioSegment
	live          *align.Live
	current       *recitation.FeedbackResult
	analyzeCancel context.CancelFunc
}

func newSession(d *deps, id string, verse recitation.CanonicalVerse, best *int) *Session {
	ctx, cancel := context.WithCancel(observe.WithSession(context.Background(), id))
	arbiter := &audio.Arbiter{}
	s := &Session{
		deps:     d,
		verse:    verse,
		ctx:      ctx,
		stop:     cancel,
		capture:  audio.NewCaptureController(d.mic, arbiter, audio.WithCaptureConfig(d.captureCfg), audio.WithClock(d.now)),
		playback: audio.NewPlaybackController(d.player, arbiter),
		live:     align.NewLive(verse.Texts()),
		state: recitation.PracticeSession{
			ID:            id,
			VerseID:       verse.ID,
			AttemptNumber: 1,
			Phase:         recitation.PhaseIntro,
			History:       []recitation.FeedbackResult{},
			BestAccuracy:  best,
			StartedAt:     d.now(),
		},
	}
	d.metrics.ActiveSessions.Add(ctx, 1)
	return s
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() recitation.PracticeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CurrentFeedback returns a copy of the result of the current attempt, or
// nil while it has not been analyzed.
func (s *Session) CurrentFeedback() *recitation.FeedbackResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Live returns the current phase, loudness and alignment snapshot.
func (s *Session) Live() LiveView {
	s.mu.Lock()
	phase, attempt, live := s.state.Phase, s.state.AttemptNumber, s.live
	s.mu.Unlock()

	snap := live.Snapshot()
	return LiveView{
		Phase:         phase,
		AttemptNumber: attempt,
		Level:         s.capture.Level(),
		Alignments:    snap.Alignments,
		Extras:        snap.Extras,
		Final:         snap.Final,
	}
}

// Advance applies action and returns the resulting state. Microphone
// failures move the session to blocked and transcription failures produce
// a degraded result; neither is returned as an error.
func (s *Session) Advance(ctx context.Context, action Action) (recitation.PracticeSession, error) {
	s.mu.Lock()
	from := s.state.Phase
	if _, err := Transition(from, action); err != nil {
		s.mu.Unlock()
		return recitation.PracticeSession{}, err
	}

	log := observe.Logger(s.ctx)
	log.Debug("practice: advance", "phase", from, "action", action)

	switch action {
	case ActionCancel:
		s.endLocked(recitation.PhaseCancelled)
	case ActionListen:
		s.listenLocked()
	case ActionRecord:
		s.recordLocked(ctx)
	case ActionRetry:
		s.state.AttemptNumber++
		s.current = nil
		s.recordLocked(ctx)
	case ActionStopRecord:
		// Releases the lock while the attempt is analyzed.
		return s.stopRecord(), nil
	case ActionComplete:
		s.completeLocked()
	case ActionPlayAttempt:
		if err := s.playback.PlayAttempt(s.ctx, s.segment); err != nil {
			log.Warn("practice: play attempt", "err", err)
		}
	}

	snap := s.state.Clone()
	s.mu.Unlock()
	return snap, nil
}

// listenLocked plays the reference recitation. A missing reference or a
// playback failure is logged; the session still moves to listen.
func (s *Session) listenLocked() {
	s.state.Phase = recitation.PhaseListen
	if err := s.playback.PlayReference(s.ctx, s.verse.AudioRef); err != nil {
		observe.Logger(s.ctx).Warn("practice: play reference", "verse_id", s.verse.ID, "err", err)
	}
}

// recordLocked (re)starts a capture for the current attempt. Any previous
// capture or held segment of the session is released first.
func (s *Session) recordLocked(ctx context.Context) {
	log := observe.Logger(s.ctx)

	s.playback.Stop()
	s.cancelCaptureLocked()
	s.releaseSegmentLocked()
	s.live = align.NewLive(s.verse.Texts())

	granted, err := s.capture.RequestAccess(ctx)
	if err != nil || !granted {
		log.Info("practice: microphone access denied", "err", err)
		s.state.Phase = recitation.PhaseBlocked
		return
	}
	if err := s.capture.StartCapture(s.ctx, s.state.ID); err != nil {
		log.Warn("practice: start capture", "err", err)
		s.state.Phase = recitation.PhaseBlocked
		return
	}
	s.capturing = true
	s.deps.metrics.ActiveCaptures.Add(s.ctx, 1)
	s.state.Phase = recitation.PhaseRecord
}

// stopRecord finalizes the capture, analyzes it without holding the lock
// and publishes the result. It is entered with s.mu held and returns with
// it released.
func (s *Session) stopRecord() recitation.PracticeSession {
	seg, err := s.capture.StopCapture()
	s.captureEndedLocked()
	if err != nil {
		observe.Logger(s.ctx).Warn("practice: stop capture", "err", err)
		seg = nil
	}

	actx, cancel := context.WithCancel(s.ctx)
	s.analyzeCancel = cancel
	s.state.Phase = recitation.PhaseAnalyzing
	live, attempt, best := s.live, s.state.AttemptNumber, cloneInt(s.state.BestAccuracy)
	s.mu.Unlock()

	res, err := s.analyze(actx, seg, live, attempt, best)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzeCancel = nil

	if err != nil || s.state.Phase != recitation.PhaseAnalyzing {
		// Cancelled while analyzing; the attempt is abandoned.
		seg.Release()
		return s.state.Clone()
	}

	s.segment = seg
	s.current = res
	s.state.History = append(s.state.History, *res.Clone())
	if !res.Degraded && (s.state.BestAccuracy == nil || res.Accuracy > *s.state.BestAccuracy) {
		acc := res.Accuracy
		s.state.BestAccuracy = &acc
	}
	s.state.Phase = recitation.PhaseFeedback
	s.deps.metrics.RecordAttempt(s.ctx, string(res.Tier), res.Degraded, res.Accuracy)
	return s.state.Clone()
}

// analyze runs transcribe, align, grade and score. It returns an error only
// when ctx was cancelled; every other failure yields a degraded result.
func (s *Session) analyze(ctx context.Context, seg *recitation.CapturedAudioSegment, live *align.Live, attempt int, best *int) (*recitation.FeedbackResult, error) {
	ctx, span := observe.StartSessionSpan(ctx, "practice.analyze",
		attribute.String("verse.id", s.verse.ID),
		attribute.Int("attempt", attempt),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		s.deps.metrics.AnalyzeDuration.Record(ctx, time.Since(start).Seconds())
	}()
	log := observe.Logger(ctx)

	words, err := s.transcribe(ctx, seg, live)
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info("practice: analysis abandoned", "attempt", attempt)
		return nil, ctxErr
	}
	if err != nil {
		log.Warn("practice: transcription unavailable, using degraded feedback", "attempt", attempt, "err", err)
		span.SetAttributes(attribute.Bool("degraded", true))
		return s.degraded(live, attempt, best), nil
	}

	res := live.Finalize(words)
	hints := s.hints(ctx, seg, words)
	findings := s.deps.analyzer.Analyze(res.Alignments, s.verse.RuleAnnotations, hints)

	fb, err := feedback.Compose(feedback.Attempt{
		Alignment:     res,
		Findings:      findings,
		AttemptNumber: attempt,
		PreviousBest:  best,
		Now:           s.deps.now(),
	})
	if err != nil {
		log.Error("practice: compose feedback", "attempt", attempt, "err", err)
		return s.degraded(live, attempt, best), nil
	}
	span.SetAttributes(attribute.Int("accuracy", fb.Accuracy))
	return fb, nil
}

// degraded builds the fallback result and makes it the final live view, so
// partials from an abandoned transcription can no longer change it.
func (s *Session) degraded(live *align.Live, attempt int, best *int) *recitation.FeedbackResult {
	fb := feedback.Degraded(s.verse.Texts(), attempt, best, s.deps.now())
	live.FinalizeWith(align.Result{Alignments: fb.Alignments, Extras: fb.Extras})
	return fb
}

type transcription struct {
	words []recitation.TranscribedWord
	err   error
}

// transcribe calls the transcriber with a bounded wait. The wait ends at the
// timeout even when the backend ignores its context. A capture without audio
// is an empty transcription, not a failure. Errors wrap
// [recitation.ErrTranscriptionTimeout] or [recitation.ErrTranscriptionFailed].
func (s *Session) transcribe(ctx context.Context, seg *recitation.CapturedAudioSegment, live *align.Live) ([]recitation.TranscribedWord, error) {
	backend := s.deps.transcriberName
	if seg == nil {
		s.deps.metrics.RecordTranscriptionError(ctx, backend, "failed")
		return nil, fmt.Errorf("%w: no audio captured", recitation.ErrTranscriptionFailed)
	}
	if len(seg.Bytes) == 0 {
		observe.Logger(ctx).Info("practice: empty capture, nothing recited")
		return []recitation.TranscribedWord{}, nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.deps.timeout)
	defer cancel()

	// The backend gets its own copy of the segment header so releasing the
	// attempt later cannot race with a call that outlived the timeout.
	input := *seg
	out := make(chan transcription, 1)
	start := time.Now()
	go func() {
		var t transcription
		if st, ok := s.deps.transcriber.(stt.StreamTranscriber); ok {
			t.words, t.err = st.TranscribeStream(tctx, &input, func(partial []recitation.TranscribedWord) {
				live.Update(partial)
			})
		} else {
			t.words, t.err = s.deps.transcriber.Transcribe(tctx, &input)
		}
		out <- t
	}()

	var t transcription
	select {
	case t = <-out:
	case <-tctx.Done():
		t.err = tctx.Err()
	}

	if t.err == nil {
		s.deps.metrics.RecordTranscription(ctx, backend, "ok", time.Since(start))
		return t.words, nil
	}
	if errors.Is(t.err, stt.ErrEmptySegment) {
		s.deps.metrics.RecordTranscription(ctx, backend, "ok", time.Since(start))
		return []recitation.TranscribedWord{}, nil
	}
	s.deps.metrics.RecordTranscription(ctx, backend, "error", time.Since(start))
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(t.err, context.DeadlineExceeded), errors.Is(tctx.Err(), context.DeadlineExceeded):
		s.deps.metrics.RecordTranscriptionError(ctx, backend, "timeout")
		return nil, fmt.Errorf("%w after %s: %w", recitation.ErrTranscriptionTimeout, s.deps.timeout, t.err)
	default:
		s.deps.metrics.RecordTranscriptionError(ctx, backend, "failed")
		return nil, fmt.Errorf("%w: %w", recitation.ErrTranscriptionFailed, t.err)
	}
}

func (s *Session) hints(ctx context.Context, seg *recitation.CapturedAudioSegment, words []recitation.TranscribedWord) tajweed.Hints {
	if s.deps.hints == nil {
		return nil
	}
	h, err := s.deps.hints.Hints(ctx, s.verse, seg, words)
	if err != nil {
		observe.Logger(ctx).Warn("practice: acoustic hints unavailable", "err", err)
		return nil
	}
	return h
}

// completeLocked ends the session and writes its history to the progress
// recorder in the background. Write errors are logged and never undo the
// completion.
func (s *Session) completeLocked() {
	outcomes := make([]progress.Outcome, 0, len(s.state.History))
	for _, r := range s.state.History {
		outcomes = append(outcomes, progress.Outcome{
			SessionID:     s.state.ID,
			VerseID:       s.state.VerseID,
			AttemptNumber: r.AttemptNumber,
			Accuracy:      r.Accuracy,
			Tier:          string(r.Tier),
			Degraded:      r.Degraded,
			Timestamp:     r.CreatedAt,
		})
	}
	s.endLocked(recitation.PhaseComplete)

	if len(outcomes) == 0 {
		return
	}
	id := s.state.ID
	s.deps.flushes.Add(1)
	go func() {
		defer s.deps.flushes.Done()
		s.deps.flush(id, outcomes)
	}()
}

// endLocked moves the session to a terminal phase and releases every
// resource it holds.
func (s *Session) endLocked(phase recitation.Phase) {
	if s.analyzeCancel != nil {
		s.analyzeCancel()
	}
	s.playback.Stop()
	s.cancelCaptureLocked()
	s.releaseSegmentLocked()
	s.state.Phase = phase
	s.endedAt = s.deps.now()
	s.deps.metrics.ActiveSessions.Add(s.ctx, -1)
	observe.Logger(s.ctx).Info("practice: session ended", "phase", phase, "attempts", len(s.state.History))
	s.stop()
}

func (s *Session) cancelCaptureLocked() {
	if !s.capturing {
		return
	}
	s.capture.Cancel()
	s.captureEndedLocked()
}

func (s *Session) captureEndedLocked() {
	if s.capturing {
		s.capturing = false
		s.deps.metrics.ActiveCaptures.Add(s.ctx, -1)
	}
}

func (s *Session) releaseSegmentLocked() {
	if s.segment != nil {
		s.segment.Release()
		s.segment = nil
	}
}

// ended reports whether the session reached a terminal phase before cutoff.
func (s *Session) ended(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase.Terminal() && s.endedAt.Before(cutoff)
}

// close cancels the session unless it already ended.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Phase.Terminal() {
		s.endLocked(recitation.PhaseCancelled)
	}
}

// flush records outcomes concurrently, bounded by flushTimeout. A failed
// write does not stop the others.
func (d *deps) flush(sessionID string, outcomes []progress.Outcome) {
	ctx, cancel := context.WithTimeout(observe.WithSession(context.Background(), sessionID), flushTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(4)
	for _, o := range outcomes {
		g.Go(func() error {
			return d.progress.RecordOutcome(ctx, o)
		})
	}
	if err := g.Wait(); err != nil {
		observe.Logger(ctx).Error("practice: record outcomes", "outcomes", len(outcomes), "err", err)
		return
	}
	slog.Debug("practice: outcomes recorded", "session_id", sessionID, "outcomes", len(outcomes))
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
