// Package app wires all Tartil subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTranscriber,
// WithMicrophone, WithProgress, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tartil/internal/api"
	"github.com/MrWong99/tartil/internal/config"
	"github.com/MrWong99/tartil/internal/health"
	"github.com/MrWong99/tartil/internal/observe"
	"github.com/MrWong99/tartil/internal/practice"
	"github.com/MrWong99/tartil/internal/resilience"
	"github.com/MrWong99/tartil/internal/tajweed"
	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/audio/pulse"
	"github.com/MrWong99/tartil/pkg/content"
	"github.com/MrWong99/tartil/pkg/progress"
	"github.com/MrWong99/tartil/pkg/progress/file"
	"github.com/MrWong99/tartil/pkg/progress/postgres"
	"github.com/MrWong99/tartil/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	library        *content.MemStore
	watcher        *content.Watcher
	transcriber    stt.Transcriber
	chain          *resilience.TranscriberFallback
	mic            audio.Microphone
	player         audio.Player
	progress       progress.Recorder
	manager        *practice.Manager
	metrics        *observe.Metrics
	metricsHandler http.Handler
	checkers       []health.Checker
	handler        http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry used to construct the transcriber chain.
// Required unless [WithTranscriber] is given.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithTranscriber injects a transcriber instead of building the configured
// fallback chain.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithMicrophone injects a microphone instead of opening PulseAudio.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithPlayer injects a player instead of the PulseAudio sink.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithProgress injects an outcome store instead of the configured backend.
func WithProgress(r progress.Recorder) Option {
	return func(a *App) { a.progress = r }
}

// WithMetrics sets the metric instruments. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: verse library loading,
// progress store connection, transcriber chain construction, audio device
// setup, session manager and HTTP routing.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Verse library ─────────────────────────────────────────────────
	if err := a.initContent(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init content: %w", err)
	}

	// ── 2. Progress store ────────────────────────────────────────────────
	if err := a.initProgress(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init progress: %w", err)
	}

	// ── 3. Transcriber chain ─────────────────────────────────────────────
	if err := a.initTranscription(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	// ── 4. Audio devices ─────────────────────────────────────────────────
	a.initAudio()

	// ── 5. Session manager ───────────────────────────────────────────────
	if err := a.initManager(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 6. HTTP routes ───────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initContent loads the verse library and starts the reload watcher when
// hot reload is enabled.
func (a *App) initContent() error {
	store, err := content.NewMemStore()
	if err != nil {
		return err
	}
	a.library = store

	path := a.cfg.Content.VersesFile
	if a.cfg.Content.ReloadInterval <= 0 {
		verses, err := content.LoadLibrary(path)
		if err != nil {
			return err
		}
		if err := store.Replace(verses); err != nil {
			return fmt.Errorf("library %q: %w", path, err)
		}
		slog.Info("loaded verse library", "path", path, "verses", store.Len())
		return nil
	}

	w, err := content.NewWatcher(path, store,
		content.WithInterval(a.cfg.Content.ReloadInterval),
		content.WithOnReload(func(int) {
			a.metrics.RecordLibraryReload(context.Background(), true)
		}),
		content.WithOnReject(func(error) {
			a.metrics.RecordLibraryReload(context.Background(), false)
		}),
	)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	slog.Info("loaded verse library", "path", path, "verses", store.Len(), "reload_interval", a.cfg.Content.ReloadInterval)
	return nil
}

// initProgress connects the configured outcome store.
func (a *App) initProgress(ctx context.Context) error {
	if a.progress != nil {
		return nil
	}

	switch a.cfg.Progress.Backend {
	case config.ProgressPostgres:
		store, err := postgres.NewStore(ctx, a.cfg.Progress.PostgresDSN)
		if err != nil {
			return err
		}
		a.progress = store
		a.checkers = append(a.checkers, health.PingChecker("progress", store.Ping))
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	case config.ProgressFile:
		a.progress = file.New(a.cfg.Progress.FilePath)
	default:
		a.progress = progress.Nop{}
	}
	return nil
}

// initTranscription builds the primary and fallback transcribers, each behind
// its own circuit breaker.
func (a *App) initTranscription() error {
	if a.transcriber != nil {
		return nil
	}
	if a.registry == nil {
		return errors.New("a transcriber registry is required when no transcriber is injected")
	}

	tr := a.cfg.Transcription
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  tr.CircuitBreaker.MaxFailures,
			ResetTimeout: tr.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  tr.CircuitBreaker.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	for i, entry := range tr.Entries() {
		t, err := a.registry.CreateTranscriber(entry)
		if err != nil {
			return err
		}
		if c, ok := t.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		if i == 0 {
			a.chain = resilience.NewTranscriberFallback(t, entry.Name, fbCfg)
		} else {
			a.chain.AddFallback(entry.Name, t)
		}
		slog.Info("configured transcriber", "name", entry.Name, "position", i)
	}
	a.transcriber = a.chain
	a.checkers = append(a.checkers, health.TranscriptionChecker(a.chain.States))
	return nil
}

// initAudio opens the PulseAudio devices unless doubles were injected.
func (a *App) initAudio() {
	if a.mic == nil {
		a.mic = pulse.NewMicrophone(a.cfg.Capture.Device)
	}
	if a.player == nil {
		dir := a.audioDir()
		p := pulse.NewPlayer()
		p.Open = func(ref string) (io.ReadCloser, error) {
			return os.Open(resolveRef(dir, ref))
		}
		a.player = p
	}
}

// audioDir returns the base directory of relative reference audio paths.
func (a *App) audioDir() string {
	if a.cfg.Content.AudioDir != "" {
		return a.cfg.Content.AudioDir
	}
	return filepath.Dir(a.cfg.Content.VersesFile)
}

// initManager creates the practice session manager.
func (a *App) initManager() error {
	name := "transcriber"
	if a.chain != nil {
		name = a.cfg.Transcription.Primary.Name
	}
	mgr, err := practice.NewManager(practice.Config{
		Content:         a.library,
		Transcriber:     a.transcriber,
		TranscriberName: name,
		Microphone:      a.mic,
		Player:          a.player,
		Capture: audio.CaptureConfig{
			SampleRate:    a.cfg.Capture.SampleRate,
			LevelInterval: a.cfg.Capture.LevelInterval,
			MaxDuration:   a.cfg.Capture.MaxDuration,
		},
		Progress: a.progress,
		Analyzer: tajweed.Analyzer{Thresholds: tajweed.Thresholds{
			Correct: a.cfg.Feedback.HintThresholds.Correct,
			Minor:   a.cfg.Feedback.HintThresholds.Minor,
		}},
		TranscriptionTimeout: a.cfg.Transcription.Timeout,
		Retention:            a.cfg.Server.SessionRetention,
		Metrics:              a.metrics,
	})
	if err != nil {
		return err
	}
	a.manager = mgr
	return nil
}

// initHTTP registers the API, health and metrics routes.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	api.New(a.manager, api.WithLiveInterval(a.cfg.Server.LiveInterval)).Register(mux)

	checkers := append([]health.Checker{health.LibraryChecker(a.library.Len)}, a.checkers...)
	health.New(checkers...).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the practice session manager.
func (a *App) Manager() *practice.Manager { return a.manager }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on the configured address and blocks until ctx is
// cancelled or the server fails. A cancelled ctx is a clean stop and yields
// nil.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown cancels every session, waits for pending outcome writes, and then
// tears down the remaining subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.manager != nil {
			if err := a.manager.Close(ctx); err != nil {
				slog.Warn("session manager close error", "err", err)
				shutdownErr = err
				return
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New had opened before it failed.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}

// resolveRef joins a relative reference path onto dir.
func resolveRef(dir, ref string) string {
	if dir == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(dir, ref)
}
