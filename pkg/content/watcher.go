package content

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher keeps a [MemStore] in sync with a library file. It polls the
// file's mtime and content hash; a changed file that fails to parse or
// validate is logged and the previous library stays in place.
type Watcher struct {
	path     string
	store    *MemStore
	interval time.Duration
	onReload func(verses int)
	onReject func(err error)

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
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

// WithOnReload registers a callback invoked after each successful reload
// with the new verse count.
func WithOnReload(fn func(verses int)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// WithOnReject registers a callback invoked when a changed library is
// rejected and the previous one is kept.
func WithOnReject(fn func(err error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// NewWatcher loads path into store immediately and starts polling in a
// background goroutine. An invalid initial library is an error.
func NewWatcher(path string, store *MemStore, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		store:    store,
		interval: 5 * time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("content: watcher initial load: %w", err)
	}
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Stop stops the watcher. The store keeps its last library.
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
			w.check()
		}
	}
}

// check reloads the library when its content changed.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("content watcher: cannot stat library", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.lastMtime) {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("content watcher: cannot read library", "path", w.path, "err", err)
		return
	}
	hash := sha256.Sum256(data)
	if hash == w.lastHash {
		// Touched but unchanged.
		w.lastMtime = info.ModTime()
		return
	}

	n, err := w.apply(data)
	if err != nil {
		slog.Warn("content watcher: keeping previous library", "path", w.path, "err", err)
		// Remember the bad content so it is not re-parsed every tick.
		w.lastHash = hash
		w.lastMtime = info.ModTime()
		if w.onReject != nil {
			w.onReject(err)
		}
		return
	}
	w.lastHash = hash
	w.lastMtime = info.ModTime()
	slog.Info("content watcher: library reloaded", "path", w.path, "verses", n)

	if w.onReload != nil {
		w.onReload(n)
	}
}

func (w *Watcher) load() ([sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return zero, time.Time{}, err
	}
	if _, err := w.apply(data); err != nil {
		return zero, time.Time{}, err
	}
	return sha256.Sum256(data), info.ModTime(), nil
}

func (w *Watcher) apply(data []byte) (int, error) {
	verses, err := LoadLibraryFromReader(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	if err := w.store.Replace(verses); err != nil {
		return 0, err
	}
	return len(verses), nil
}
