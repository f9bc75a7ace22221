// Package feedback reduces a finalized alignment and its rule findings into
// the learner-facing [recitation.FeedbackResult].
//
// Everything here is pure: no I/O, no clocks except the timestamps passed in.
package feedback

import (
	"errors"
	"math"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// ErrNotFinal is returned by [Aggregate] when an alignment entry is still
// pending or current. Accuracy is undefined until alignment is final.
var ErrNotFinal = errors.New("feedback: alignment not final")

const (
	excellentMin = 90
	goodMin      = 70
)

// Score is the numeric outcome of one attempt.
type Score struct {
	Accuracy     int
	Tier         recitation.Tier
	SuggestRetry bool
}

// Aggregate computes accuracy as round(100 * (matched + 0.5*partial) / total)
// over the expected words. Extras do not count. A verse with no words scores 0.
func Aggregate(alignments []recitation.WordAlignment, findings []recitation.RuleFinding) (Score, error) {
	var matched, partial int
	for _, a := range alignments {
		switch a.Status {
		case recitation.StatusPending, recitation.StatusCurrent:
			return Score{}, ErrNotFinal
		case recitation.StatusMatched:
			matched++
		case recitation.StatusPartial:
			partial++
		}
	}

	acc := 0
	if n := len(alignments); n > 0 {
		acc = int(math.Round(100 * (float64(matched) + 0.5*float64(partial)) / float64(n)))
	}
	tier := Tier(acc)
	return Score{
		Accuracy:     acc,
		Tier:         tier,
		SuggestRetry: ShouldSuggestRetry(tier, findings),
	}, nil
}

// Tier maps accuracy to its performance band.
func Tier(accuracy int) recitation.Tier {
	switch {
	case accuracy >= excellentMin:
		return recitation.TierExcellent
	case accuracy >= goodMin:
		return recitation.TierGood
	default:
		return recitation.TierNeedsPractice
	}
}

// ShouldSuggestRetry reports whether the learner should be nudged to try
// again: always below good, for good only when a major rule issue exists.
func ShouldSuggestRetry(tier recitation.Tier, findings []recitation.RuleFinding) bool {
	switch tier {
	case recitation.TierNeedsPractice:
		return true
	case recitation.TierGood:
		for _, f := range findings {
			if f.Severity == recitation.SeverityMajor {
				return true
			}
		}
		return false
	default:
		return false
	}
}
