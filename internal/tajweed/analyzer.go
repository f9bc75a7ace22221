// Package tajweed grades annotated tajweed rule instances of a verse against
// the finalized alignment of an attempt.
//
// Grading is deterministic. A rule at a word that was not recited is a major
// issue. For recited words an optional acoustic confidence per rule instance
// ([Hints]) decides the severity; without one the alignment status decides
// (matched words are correct, partial words minor).
package tajweed

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// Thresholds bound the acoustic confidence bands.
type Thresholds struct {
	// Correct is the minimum confidence graded correct.
	Correct float64 `yaml:"correct"`

	// Minor is the minimum confidence graded minor. Anything below is major.
	Minor float64 `yaml:"minor"`
}

// DefaultThresholds are used when the zero Thresholds is passed.
var DefaultThresholds = Thresholds{Correct: 0.75, Minor: 0.4}

// HintKey identifies one rule instance.
type HintKey struct {
	WordIndex int
	RuleID    string
}

// Hints carries externally supplied per-rule confidences in [0,1]. A nil map
// means no acoustic signal is available.
type Hints map[HintKey]float64

// Analyzer grades rule annotations. The zero value uses [DefaultThresholds]
// and the built-in message catalogue.
type Analyzer struct {
	Thresholds Thresholds
	Catalogue  Catalogue
}

// Analyze grades rule annotations with the default analyzer.
func Analyze(alignments []recitation.WordAlignment, annotations []recitation.RuleAnnotation, hints Hints) []recitation.RuleFinding {
	return Analyzer{}.Analyze(alignments, annotations, hints)
}

// Analyze returns one finding per annotation that points at an existing
// alignment, sorted by severity descending and then by word index. Callers
// must pass a finalized alignment.
func (a Analyzer) Analyze(alignments []recitation.WordAlignment, annotations []recitation.RuleAnnotation, hints Hints) []recitation.RuleFinding {
	th := a.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds
	}
	cat := a.Catalogue
	if cat == nil {
		cat = DefaultCatalogue
	}

	findings := make([]recitation.RuleFinding, 0, len(annotations))
	for _, ann := range annotations {
		if ann.WordIndex < 0 || ann.WordIndex >= len(alignments) {
			slog.Warn("tajweed: annotation outside verse, skipping",
				"rule_id", ann.RuleID, "word_index", ann.WordIndex, "words", len(alignments))
			continue
		}
		sev := grade(alignments[ann.WordIndex].Status, ann, hints, th)
		findings = append(findings, recitation.RuleFinding{
			RuleID:    ann.RuleID,
			RuleName:  ann.RuleName,
			WordIndex: ann.WordIndex,
			Severity:  sev,
			Feedback:  cat.Message(ann.RuleID, ann.RuleName, sev),
		})
	}

	slices.SortStableFunc(findings, func(x, y recitation.RuleFinding) int {
		if c := cmp.Compare(y.Severity.Rank(), x.Severity.Rank()); c != 0 {
			return c
		}
		return cmp.Compare(x.WordIndex, y.WordIndex)
	})
	return findings
}

func grade(status recitation.Status, ann recitation.RuleAnnotation, hints Hints, th Thresholds) recitation.Severity {
	switch status {
	case recitation.StatusMatched, recitation.StatusPartial:
	default:
		return recitation.SeverityMajor
	}

	if conf, ok := hints[HintKey{WordIndex: ann.WordIndex, RuleID: ann.RuleID}]; ok {
		switch {
		case conf >= th.Correct:
			return recitation.SeverityCorrect
		case conf >= th.Minor:
			return recitation.SeverityMinor
		default:
			return recitation.SeverityMajor
		}
	}

	if status == recitation.StatusMatched {
		return recitation.SeverityCorrect
	}
	return recitation.SeverityMinor
}

// Top returns at most n findings that are not correct, preserving order.
func Top(findings []recitation.RuleFinding, n int) []recitation.RuleFinding {
	out := make([]recitation.RuleFinding, 0, n)
	for _, f := range findings {
		if len(out) >= n {
			break
		}
		if f.Severity != recitation.SeverityCorrect {
			out = append(out, f)
		}
	}
	return out
}
