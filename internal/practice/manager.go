// Package practice runs recitation practice sessions.
//
// A [Manager] owns every live [Session]. Each session walks the phase
// machine defined by [Transition]: the learner listens to the reference
// recitation, records an attempt, and receives feedback once the attempt
// has been transcribed, aligned against the verse, graded for tajweed rules
// and scored. A failed or slow transcription never stalls a session; the
// learner gets a degraded result instead and may retry.
//
// Sessions share nothing but the read-only verse library. Each one has its
// own capture and playback controllers bound to a private audio arbiter, so
// at most one audio source is active per session.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tartil/internal/observe"
	"github.com/MrWong99/tartil/internal/tajweed"
	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/content"
	"github.com/MrWong99/tartil/pkg/progress"
	"github.com/MrWong99/tartil/pkg/provider/stt"
	"github.com/MrWong99/tartil/pkg/recitation"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("practice: session not found")

// ErrClosed is returned by [Manager.StartSession] after [Manager.Close].
var ErrClosed = errors.New("practice: manager closed")

const (
	// DefaultTranscriptionTimeout bounds a single transcription call.
	DefaultTranscriptionTimeout = 10 * time.Second

	// DefaultRetention is how long an ended session stays readable.
	DefaultRetention = 15 * time.Minute
)

// HintSource supplies optional per-rule acoustic confidences for an attempt.
type HintSource interface {
	Hints(ctx context.Context, verse recitation.CanonicalVerse, seg *recitation.CapturedAudioSegment, words []recitation.TranscribedWord) (tajweed.Hints, error)
}

// Config holds the dependencies of a [Manager].
type Config struct {
	// Content resolves verse IDs. Required.
	Content content.Store

	// Transcriber turns an attempt into words. Required. A
	// [stt.StreamTranscriber] additionally drives the live alignment view.
	Transcriber stt.Transcriber

	// TranscriberName labels transcription metrics. Default "transcriber".
	TranscriberName string

	// Microphone records attempts. Required.
	Microphone audio.Microphone

	// Player plays reference and attempt audio. Required.
	Player audio.Player

	// Capture tunes level sampling and the duration cap.
	Capture audio.CaptureConfig

	// Progress receives outcomes of completed sessions and supplies the
	// previous best accuracy. Default [progress.Nop].
	Progress progress.Recorder

	// Analyzer grades tajweed rules. The zero value uses default
	// thresholds and messages.
	Analyzer tajweed.Analyzer

	// Hints is optional.
	Hints HintSource

	// TranscriptionTimeout. Default [DefaultTranscriptionTimeout].
	TranscriptionTimeout time.Duration

	// Retention of ended sessions. Default [DefaultRetention].
	Retention time.Duration

	// Metrics. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// deps is the resolved configuration shared by all sessions.
type deps struct {
	content         content.Store
	transcriber     stt.Transcriber
	transcriberName string
	mic             audio.Microphone
	player          audio.Player
	captureCfg      audio.CaptureConfig
	progress        progress.Recorder
	analyzer        tajweed.Analyzer
	hints           HintSource
	timeout         time.Duration
	retention       time.Duration
	metrics         *observe.Metrics
	now             func() time.Time
	newID           func() string

	flushes sync.WaitGroup
}

// LiveView is the streaming view of a session: what the learner sees while
// recording and while the attempt is analyzed.
type LiveView struct {
	Phase         recitation.Phase           `json:"phase"`
	AttemptNumber int                        `json:"attemptNumber"`
	Level         float64                    `json:"level"`
	Alignments    []recitation.WordAlignment `json:"alignments"`
	Extras        []recitation.WordAlignment `json:"extras"`
	Final         bool                       `json:"final"`
}

// Manager creates and tracks practice sessions. All methods are safe for
// concurrent use.
type Manager struct {
	deps *deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Content == nil {
		errs = append(errs, errors.New("content store is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("practice: new manager: %w", errors.Join(errs...))
	}

	d := &deps{
		content:         cfg.Content,
		transcriber:     cfg.Transcriber,
		transcriberName: cfg.TranscriberName,
		mic:             cfg.Microphone,
		player:          cfg.Player,
		captureCfg:      cfg.Capture,
		progress:        cfg.Progress,
		analyzer:        cfg.Analyzer,
		hints:           cfg.Hints,
		timeout:         cfg.TranscriptionTimeout,
		retention:       cfg.Retention,
		metrics:         cfg.Metrics,
		now:             cfg.Now,
		newID:           cfg.NewID,
	}
	if d.transcriberName == "" {
		d.transcriberName = "transcriber"
	}
	if d.progress == nil {
		d.progress = progress.Nop{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTranscriptionTimeout
	}
	if d.retention <= 0 {
		d.retention = DefaultRetention
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}

	return &Manager{deps: d, sessions: make(map[string]*Session)}, nil
}

// StartSession opens a session for verseID in the intro phase. It fails
// with an error wrapping [recitation.ErrInvalidVerse] when the verse is
// unknown or malformed. The previous best accuracy is looked up but a
// progress failure does not prevent the session.
func (m *Manager) StartSession(ctx context.Context, verseID string) (recitation.PracticeSession, error) {
	verse, err := m.deps.content.Get(ctx, verseID)
	if err != nil {
		return recitation.PracticeSession{}, fmt.Errorf("practice: start session: %w", err)
	}
	return m.start(ctx, verse)
}

// StartVerse is [Manager.StartSession] addressed by surah and ayah.
func (m *Manager) StartVerse(ctx context.Context, surah, ayah int) (recitation.PracticeSession, error) {
	verse, err := m.deps.content.GetVerse(ctx, surah, ayah)
	if err != nil {
		return recitation.PracticeSession{}, fmt.Errorf("practice: start session: %w", err)
	}
	return m.start(ctx, verse)
}

func (m *Manager) start(ctx context.Context, verse recitation.CanonicalVerse) (recitation.PracticeSession, error) {
	if err := content.Validate(verse); err != nil {
		return recitation.PracticeSession{}, fmt.Errorf("practice: start session: %w", err)
	}

	best, err := m.deps.progress.BestAccuracy(ctx, verse.ID)
	if err != nil {
		slog.Warn("practice: best accuracy unavailable", "verse_id", verse.ID, "err", err)
		best = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recitation.PracticeSession{}, ErrClosed
	}
	m.evictLocked()

	id := m.deps.newID()
	s := newSession(m.deps, id, verse, best)
	m.sessions[id] = s

	slog.Info("practice: session started", "session_id", id, "verse_id", verse.ID)
	return s.Snapshot(), nil
}

// Advance applies action to the session.
func (m *Manager) Advance(ctx context.Context, sessionID string, action Action) (recitation.PracticeSession, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return recitation.PracticeSession{}, err
	}
	snap, err := s.Advance(ctx, action)
	if err != nil {
		return recitation.PracticeSession{}, fmt.Errorf("practice: advance %s: %w", sessionID, err)
	}
	return snap, nil
}

// Session returns a deep copy of the session state.
func (m *Manager) Session(sessionID string) (recitation.PracticeSession, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return recitation.PracticeSession{}, err
	}
	return s.Snapshot(), nil
}

// CurrentFeedback returns the result of the session's current attempt, or
// nil when it has not been analyzed yet.
func (m *Manager) CurrentFeedback(sessionID string) (*recitation.FeedbackResult, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.CurrentFeedback(), nil
}

// Live returns the session's live view.
func (m *Manager) Live(sessionID string) (LiveView, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return LiveView{}, err
	}
	return s.Live(), nil
}

// Active returns the number of sessions that have not ended.
func (m *Manager) Active() int {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if !s.Snapshot().Phase.Terminal() {
			n++
		}
	}
	return n
}

// Close cancels every running session and waits until pending progress
// writes finish or ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		m.deps.flushes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("practice: close: %w", ctx.Err())
	}
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// evictLocked drops sessions that ended longer than the retention ago.
func (m *Manager) evictLocked() {
	cutoff := m.deps.now().Add(-m.deps.retention)
	for id, s := range m.sessions {
		if s.ended(cutoff) {
			delete(m.sessions, id)
		}
	}
}
