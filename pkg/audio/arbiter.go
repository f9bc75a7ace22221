package audio

import (
	"errors"
	"sync"
)

// ErrAudioBusy is returned when playback is requested while a capture holds
// the audio token.
var ErrAudioBusy = errors.New("audio: capture in progress")

// SourceKind names what is using the audio path.
type SourceKind string

const (
	SourceReference SourceKind = "reference_playback"
	SourceCapture   SourceKind = "capture"
	SourceAttempt   SourceKind = "attempt_playback"
)

// Arbiter hands out the single audio [Token] of a session. Acquiring revokes
// the current holder before the new token becomes active, so at most one
// source is active at any instant. Capture has priority: it always preempts,
// and playback cannot preempt it.
//
// The zero value is ready to use.
type Arbiter struct {
	// acquireMu serializes Acquire so revocation and installation of the
	// next token happen as one step.
	acquireMu sync.Mutex

	mu      sync.Mutex
	current *Token
	nextID  uint64
}

// Token is the right to use the audio path. It ends when released by its
// holder or revoked by a later Acquire.
type Token struct {
	arbiter  *Arbiter
	id       uint64
	kind     SourceKind
	onRevoke func()

	once sync.Once
	done chan struct{}
}

// Acquire revokes the current holder, running its onRevoke callback, and
// returns a new active token. onRevoke may be nil and must not call Acquire.
func (a *Arbiter) Acquire(kind SourceKind, onRevoke func()) (*Token, error) {
	a.acquireMu.Lock()
	defer a.acquireMu.Unlock()

	a.mu.Lock()
	prev := a.current
	if prev != nil && prev.kind == SourceCapture && kind != SourceCapture {
		a.mu.Unlock()
		return nil, ErrAudioBusy
	}
	a.current = nil
	a.mu.Unlock()

	if prev != nil {
		prev.revoke()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	t := &Token{
		arbiter:  a,
		id:       a.nextID,
		kind:     kind,
		onRevoke: onRevoke,
		done:     make(chan struct{}),
	}
	a.current = t
	return t, nil
}

// Active returns the kind of the current holder and whether one exists.
func (a *Arbiter) Active() (SourceKind, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return "", false
	}
	return a.current.kind, true
}

// ReleaseAll revokes the current holder, if any.
func (a *Arbiter) ReleaseAll() {
	a.acquireMu.Lock()
	defer a.acquireMu.Unlock()

	a.mu.Lock()
	prev := a.current
	a.current = nil
	a.mu.Unlock()
	if prev != nil {
		prev.revoke()
	}
}

// Kind returns the source kind the token was acquired for.
func (t *Token) Kind() SourceKind { return t.kind }

// Done is closed when the token is released or revoked.
func (t *Token) Done() <-chan struct{} { return t.done }

// Release gives the token back. The revoke callback is not run. Releasing a
// revoked or already released token is a no-op.
func (t *Token) Release() {
	a := t.arbiter
	a.mu.Lock()
	if a.current == t {
		a.current = nil
	}
	a.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

func (t *Token) revoke() {
	t.once.Do(func() {
		if t.onRevoke != nil {
			t.onRevoke()
		}
		close(t.done)
	})
}
