package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the server config file and reports edits as a [ConfigDiff].
// Only the log level can be applied to a running server; the diff tells the
// caller which other sections need a restart. An invalid edit keeps the
// previous config current.
type Watcher struct {
	path      string
	interval  time.Duration
	onChange  func(d ConfigDiff, cfg *Config)
	onInvalid func(err error)

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnInvalid is called when an edited file fails to parse or validate.
func WithOnInvalid(fn func(err error)) WatcherOption {
	return func(w *Watcher) { w.onInvalid = fn }
}

// NewWatcher loads path and starts polling it. onChange receives the diff
// against the previous config and the new config; edits that change no
// setting (comments, formatting) do not invoke it. An invalid initial file
// is an error.
func NewWatcher(path string, onChange func(d ConfigDiff, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = sha256.Sum256(data)
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. Current keeps returning the last valid config.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Reload()
		}
	}
}

// Reload checks the file once, outside the polling schedule. It reports
// whether a new config was adopted.
func (w *Watcher) Reload() bool {
	diff, cfg, err := w.check()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		if w.onInvalid != nil {
			w.onInvalid(err)
		}
		return false
	}
	if cfg == nil {
		return false
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"log_level_changed", diff.LogLevelChanged, "restart_required", diff.RestartRequired)
	if w.onChange != nil && diff.Changed() {
		w.onChange(diff, cfg)
	}
	return true
}

// check returns the new config when the file content changed and is valid,
// nil when nothing changed.
func (w *Watcher) check() (ConfigDiff, *Config, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.lastMtime) {
		return ConfigDiff{}, nil, nil
	}

	data, mtime, err := w.read()
	if err != nil {
		return ConfigDiff{}, nil, err
	}
	hash := sha256.Sum256(data)
	w.lastMtime = mtime
	if hash == w.lastHash {
		// Touched but unchanged.
		return ConfigDiff{}, nil, nil
	}
	// Remember the content either way so a bad edit is reported once.
	w.lastHash = hash

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return ConfigDiff{}, nil, err
	}
	diff := Diff(w.current, cfg)
	w.current = cfg
	return diff, cfg, nil
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
