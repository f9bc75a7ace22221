// Package align implements word-level alignment of a recited attempt against
// the canonical verse text.
//
// The algorithm is a weighted global sequence alignment (edit-distance
// dynamic program) over two word lists:
//
//   - substituting expected word a with transcribed word b costs
//     1 - Similarity(a, b), where similarity is computed on the
//     pronunciation-normalized forms (see [Normalize]);
//   - inserting a transcribed word with no expected counterpart costs 1;
//   - deleting an expected word with no transcribed counterpart costs 1.
//
// When several minimum-cost paths exist the backtrace prefers substitution,
// then deletion, then insertion. Aligned pairs are classified by similarity:
// at least [MatchThreshold] is matched, at least [PartialThreshold] is
// partial. A pair below [PartialThreshold] is not treated as an attempt at
// the word: the expected word is reported missed and the transcribed word
// extra.
//
// [Align] is a pure function. [Live] layers streaming snapshots on top of it.
package align

import (
	"math"

	"github.com/MrWong99/tartil/pkg/recitation"
)

const (
	// MatchThreshold is the minimum similarity for a matched word.
	MatchThreshold = 0.85

	// PartialThreshold is the minimum similarity for a partial word.
	PartialThreshold = 0.5

	insertCost = 1.0
	deleteCost = 1.0

	// costEpsilon absorbs float rounding when comparing path costs.
	costEpsilon = 1e-9
)

// Result is the finalized alignment of one attempt.
type Result struct {
	// Alignments has exactly one entry per expected word, in verse order.
	Alignments []recitation.WordAlignment `json:"alignments"`

	// Extras lists transcribed words with no expected counterpart, in
	// transcript order. Their ExpectedIndex is -1.
	Extras []recitation.WordAlignment `json:"extras"`
}

// Counts tallies the statuses of r.Alignments.
func (r Result) Counts() (matched, partial, missed int) {
	for _, a := range r.Alignments {
		switch a.Status {
		case recitation.StatusMatched:
			matched++
		case recitation.StatusPartial:
			partial++
		case recitation.StatusMissed:
			missed++
		}
	}
	return matched, partial, missed
}

// Align aligns the expected verse words against the transcribed words.
// The returned Alignments slice always has len(expected) entries.
func Align(expected, transcribed []string) Result {
	res, _ := align(expected, transcribed)
	return res
}

type step uint8

const (
	stepNone step = iota
	stepSub
	stepDel
	stepIns
)

// align runs the dynamic program and also returns, for each expected word,
// the index of the transcribed word it was paired with (-1 when none).
func align(expected, transcribed []string) (Result, []int) {
	n, m := len(expected), len(transcribed)

	normE := make([]string, n)
	for i, w := range expected {
		normE[i] = Normalize(w)
	}
	normT := make([]string, m)
	for j, w := range transcribed {
		normT[j] = Normalize(w)
	}

	// sim[i][j] caches the similarity of expected[i] and transcribed[j].
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, m)
		for j := range sim[i] {
			sim[i][j] = similarityNormalized(normE[i], normT[j])
		}
	}

	cost := make([][]float64, n+1)
	for i := range cost {
		cost[i] = make([]float64, m+1)
		cost[i][0] = float64(i) * deleteCost
	}
	for j := 0; j <= m; j++ {
		cost[0][j] = float64(j) * insertCost
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := cost[i-1][j-1] + (1 - sim[i-1][j-1])
			del := cost[i-1][j] + deleteCost
			ins := cost[i][j-1] + insertCost
			cost[i][j] = math.Min(sub, math.Min(del, ins))
		}
	}

	// Backtrace from the bottom-right corner, collecting steps in reverse.
	steps := make([]step, 0, n+m)
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && nearlyEqual(cost[i][j], cost[i-1][j-1]+(1-sim[i-1][j-1])):
			steps = append(steps, stepSub)
			i--
			j--
		case i > 0 && nearlyEqual(cost[i][j], cost[i-1][j]+deleteCost):
			steps = append(steps, stepDel)
			i--
		default:
			steps = append(steps, stepIns)
			j--
		}
	}

	res := Result{
		Alignments: make([]recitation.WordAlignment, 0, n),
		Extras:     []recitation.WordAlignment{},
	}
	pairs := make([]int, n)
	i, j := 0, 0
	for k := len(steps) - 1; k >= 0; k-- {
		switch steps[k] {
		case stepSub:
			s := sim[i][j]
			heard := transcribed[j]
			switch {
			case s >= MatchThreshold:
				res.Alignments = append(res.Alignments, paired(expected[i], i, heard, recitation.StatusMatched, s))
				pairs[i] = j
			case s >= PartialThreshold:
				res.Alignments = append(res.Alignments, paired(expected[i], i, heard, recitation.StatusPartial, s))
				pairs[i] = j
			default:
				res.Alignments = append(res.Alignments, missed(expected[i], i))
				res.Extras = append(res.Extras, extra(heard))
				pairs[i] = -1
			}
			i++
			j++
		case stepDel:
			res.Alignments = append(res.Alignments, missed(expected[i], i))
			pairs[i] = -1
			i++
		case stepIns:
			res.Extras = append(res.Extras, extra(transcribed[j]))
			j++
		}
	}
	return res, pairs
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= costEpsilon
}

func paired(expected string, idx int, heard string, status recitation.Status, s float64) recitation.WordAlignment {
	return recitation.WordAlignment{
		ExpectedWord:    expected,
		ExpectedIndex:   idx,
		TranscribedWord: &heard,
		Status:          status,
		Similarity:      s,
	}
}

func missed(expected string, idx int) recitation.WordAlignment {
	return recitation.WordAlignment{
		ExpectedWord:  expected,
		ExpectedIndex: idx,
		Status:        recitation.StatusMissed,
	}
}

func extra(heard string) recitation.WordAlignment {
	return recitation.WordAlignment{
		ExpectedIndex:   -1,
		TranscribedWord: &heard,
		Status:          recitation.StatusExtra,
	}
}
