package align

import (
	"sync"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// Snapshot is one immutable view of an attempt's alignment. Callers receive
// their own copy and may keep it indefinitely.
type Snapshot struct {
	Alignments []recitation.WordAlignment `json:"alignments"`
	Extras     []recitation.WordAlignment `json:"extras"`

	// Final is true only for the snapshot produced by [Live.Finalize].
	Final bool `json:"final"`
}

// Live tracks streaming alignment for a single attempt. Update is called with
// each partial transcript; Finalize with the complete one. The live and the
// final view are stored separately so a late partial can never overwrite a
// finalized result.
//
// A Live is safe for concurrent use.
type Live struct {
	expected []string

	mu    sync.Mutex
	live  Snapshot
	final *Snapshot
}

// NewLive returns a tracker for the given expected words. The initial
// snapshot marks the first word current and the rest pending.
func NewLive(expected []string) *Live {
	l := &Live{expected: expected}
	l.live = Snapshot{Alignments: provisional(expected, nil, nil, -1), Extras: []recitation.WordAlignment{}}
	return l
}

// Update aligns a partial transcript and returns the new live snapshot.
// Once Finalize has run, Update leaves the tracker unchanged and returns the
// final snapshot.
func (l *Live) Update(partial []recitation.TranscribedWord) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.final != nil {
		return cloneSnapshot(*l.final)
	}

	texts := recitation.WordTexts(partial)
	res, pairs := align(l.expected, texts)
	frontier := confidentPrefix(res.Alignments, pairs, len(texts)-1)
	l.live = Snapshot{
		Alignments: provisional(l.expected, res.Alignments, pairs, frontier),
		Extras:     []recitation.WordAlignment{},
	}
	return cloneSnapshot(l.live)
}

// Finalize runs the full alignment over the complete transcript and stores it
// as the final snapshot. Every entry of the result is terminal.
func (l *Live) Finalize(words []recitation.TranscribedWord) Result {
	return l.FinalizeWith(Align(l.expected, recitation.WordTexts(words)))
}

// FinalizeWith stores res as the final snapshot without aligning. It is used
// when the outcome was decided without a transcript. res must hold only
// terminal entries. Later calls to Update leave the tracker unchanged.
func (l *Live) FinalizeWith(res Result) Result {
	in := cloneSnapshot(Snapshot{Alignments: res.Alignments, Extras: res.Extras})
	if in.Extras == nil {
		in.Extras = []recitation.WordAlignment{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{Alignments: in.Alignments, Extras: in.Extras, Final: true}
	l.final = &snap

	out := cloneSnapshot(snap)
	return Result{Alignments: out.Alignments, Extras: out.Extras}
}

// Snapshot returns the final snapshot when available, else the latest live one.
func (l *Live) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.final != nil {
		return cloneSnapshot(*l.final)
	}
	return cloneSnapshot(l.live)
}

// Final returns the finalized snapshot and true, or false before Finalize.
func (l *Live) Final() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.final == nil {
		return Snapshot{}, false
	}
	return cloneSnapshot(*l.final), true
}

// confidentPrefix returns the index of the last expected word that is
// matched or partial and whose transcribed counterpart is not the trailing
// (possibly still changing) word. It returns -1 when there is none.
func confidentPrefix(alignments []recitation.WordAlignment, pairs []int, trailing int) int {
	frontier := -1
	for i, a := range alignments {
		if a.Status != recitation.StatusMatched && a.Status != recitation.StatusPartial {
			continue
		}
		if pairs[i] == trailing {
			continue
		}
		frontier = i
	}
	return frontier
}

// provisional builds a live view: entries up to frontier keep the aligned
// status, the next entry is current and the remainder pending.
func provisional(expected []string, aligned []recitation.WordAlignment, pairs []int, frontier int) []recitation.WordAlignment {
	out := make([]recitation.WordAlignment, len(expected))
	for i, w := range expected {
		switch {
		case i <= frontier:
			out[i] = aligned[i]
		case i == frontier+1:
			out[i] = recitation.WordAlignment{ExpectedWord: w, ExpectedIndex: i, Status: recitation.StatusCurrent}
		default:
			out[i] = recitation.WordAlignment{ExpectedWord: w, ExpectedIndex: i, Status: recitation.StatusPending}
		}
	}
	return out
}

func cloneSnapshot(s Snapshot) Snapshot {
	r := recitation.FeedbackResult{Alignments: s.Alignments, Extras: s.Extras}
	c := r.Clone()
	return Snapshot{Alignments: c.Alignments, Extras: c.Extras, Final: s.Final}
}
