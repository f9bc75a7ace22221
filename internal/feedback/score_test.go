package feedback

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tartil/internal/align"
	"github.com/MrWong99/tartil/internal/tajweed"
	"github.com/MrWong99/tartil/pkg/recitation"
)

var qulHuwa = []string{"Qul", "Huwa", "Allahu", "Ahad"}

func score(t *testing.T, transcribed ...string) Score {
	t.Helper()
	res := align.Align(qulHuwa, transcribed)
	s, err := Aggregate(res.Alignments, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	return s
}

func TestAggregate_Perfect(t *testing.T) {
	t.Parallel()

	s := score(t, "qul", "huwa", "allahu", "ahad")
	if s.Accuracy != 100 || s.Tier != recitation.TierExcellent {
		t.Fatalf("score = %+v, want 100 excellent", s)
	}
	if s.SuggestRetry {
		t.Error("SuggestRetry = true for excellent")
	}
}

func TestAggregate_Empty(t *testing.T) {
	t.Parallel()

	s := score(t)
	if s.Accuracy != 0 || s.Tier != recitation.TierNeedsPractice {
		t.Fatalf("score = %+v, want 0 needs_practice", s)
	}
	if !s.SuggestRetry {
		t.Error("SuggestRetry = false for needs_practice")
	}
}

func TestAggregate_PartialWord(t *testing.T) {
	t.Parallel()

	s := score(t, "Qul", "Huwa", "Allah", "Ahad")
	if s.Accuracy != 88 || s.Tier != recitation.TierGood {
		t.Fatalf("score = %+v, want 88 good", s)
	}
}

func TestAggregate_ExtrasNeverLowerAccuracy(t *testing.T) {
	t.Parallel()

	bases := [][]string{
		{"qul", "huwa", "allahu", "ahad"},
		{"qul", "huwa", "allah", "ahad"},
		{"qul", "allahu"},
		{},
	}
	for _, base := range bases {
		before := score(t, base...)
		after := score(t, append(append([]string{}, base...), "amin")...)
		if after.Accuracy < before.Accuracy {
			t.Errorf("%v + extra: accuracy %d < %d", base, after.Accuracy, before.Accuracy)
		}
	}
}

// The guarantee covers pure insertions: the inserted word leaves every
// existing pair in place. An insertion that resembles a neighbouring
// expected word can re-pair the sequence and is not covered.
func TestAggregate_MidSequenceExtraKeepsPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   []string
		at     int
		insert string
	}{
		{name: "between matched words", base: []string{"qul", "huwa", "allah", "ahad"}, at: 2, insert: "amin"},
		{name: "after first word", base: []string{"qul", "huwa", "allahu", "ahad"}, at: 1, insert: "bismi"},
		{name: "inside a gap", base: []string{"qul", "allahu"}, at: 1, insert: "amin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			withExtra := slices.Insert(slices.Clone(tt.base), tt.at, tt.insert)
			before := align.Align(qulHuwa, tt.base)
			after := align.Align(qulHuwa, withExtra)
			if got, want := statusesOf(after.Alignments), statusesOf(before.Alignments); !reflect.DeepEqual(got, want) {
				t.Fatalf("statuses after insert = %v, want %v", got, want)
			}
			if len(after.Extras) != len(before.Extras)+1 {
				t.Errorf("extras = %d, want %d", len(after.Extras), len(before.Extras)+1)
			}

			b, a := score(t, tt.base...), score(t, withExtra...)
			if a.Accuracy != b.Accuracy {
				t.Errorf("accuracy with %q at %d = %d, want %d", tt.insert, tt.at, a.Accuracy, b.Accuracy)
			}
		})
	}
}

func statusesOf(alignments []recitation.WordAlignment) []recitation.Status {
	out := make([]recitation.Status, len(alignments))
	for i, a := range alignments {
		out[i] = a.Status
	}
	return out
}

func TestAggregate_Idempotent(t *testing.T) {
	t.Parallel()

	a := score(t, "qul", "hua", "allah")
	b := score(t, "qul", "hua", "allah")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Aggregate not idempotent: %+v vs %+v", a, b)
	}
}

func TestAggregate_RejectsProvisionalAlignment(t *testing.T) {
	t.Parallel()

	snap := align.NewLive(qulHuwa).Update(recitation.Words("qul"))
	if _, err := Aggregate(snap.Alignments, nil); !errors.Is(err, ErrNotFinal) {
		t.Fatalf("err = %v, want ErrNotFinal", err)
	}
}

func TestAggregate_NoWords(t *testing.T) {
	t.Parallel()

	s, err := Aggregate(nil, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if s.Accuracy != 0 {
		t.Fatalf("Accuracy = %d, want 0", s.Accuracy)
	}
}

func TestTier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		acc  int
		want recitation.Tier
	}{
		{100, recitation.TierExcellent},
		{90, recitation.TierExcellent},
		{89, recitation.TierGood},
		{70, recitation.TierGood},
		{69, recitation.TierNeedsPractice},
		{0, recitation.TierNeedsPractice},
	}
	for _, tc := range cases {
		if got := Tier(tc.acc); got != tc.want {
			t.Errorf("Tier(%d) = %s, want %s", tc.acc, got, tc.want)
		}
	}
}

func TestShouldSuggestRetry(t *testing.T) {
	t.Parallel()

	major := []recitation.RuleFinding{{Severity: recitation.SeverityMajor}}
	minor := []recitation.RuleFinding{{Severity: recitation.SeverityMinor}}

	cases := []struct {
		name     string
		tier     recitation.Tier
		findings []recitation.RuleFinding
		want     bool
	}{
		{"needs practice", recitation.TierNeedsPractice, nil, true},
		{"good clean", recitation.TierGood, minor, false},
		{"good with major", recitation.TierGood, major, true},
		{"excellent with major", recitation.TierExcellent, major, false},
	}
	for _, tc := range cases {
		if got := ShouldSuggestRetry(tc.tier, tc.findings); got != tc.want {
			t.Errorf("%s: ShouldSuggestRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()

	res := align.Align(qulHuwa, []string{"Qul", "Allah", "Ahad"})
	findings := tajweed.Analyze(res.Alignments, []recitation.RuleAnnotation{
		{WordIndex: 1, RuleID: "madd", RuleName: "Madd"},
		{WordIndex: 2, RuleID: "ghunnah", RuleName: "Ghunnah"},
		{WordIndex: 3, RuleID: "qalqalah", RuleName: "Qalqalah"},
	}, nil)
	prev := 40
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	fb, err := Compose(Attempt{Alignment: res, Findings: findings, AttemptNumber: 2, PreviousBest: &prev, Now: now})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	// 2 matched + 1 partial of 4 = 62.5 -> 63.
	if fb.Accuracy != 63 || fb.Tier != recitation.TierNeedsPractice {
		t.Fatalf("accuracy/tier = %d/%s, want 63/needs_practice", fb.Accuracy, fb.Tier)
	}
	if !fb.SuggestRetry || fb.Degraded {
		t.Errorf("SuggestRetry/Degraded = %v/%v, want true/false", fb.SuggestRetry, fb.Degraded)
	}
	if fb.AttemptNumber != 2 || !fb.CreatedAt.Equal(now) {
		t.Errorf("AttemptNumber/CreatedAt = %d/%v", fb.AttemptNumber, fb.CreatedAt)
	}
	if !strings.Contains(fb.Encouragement, "40% to 63%") {
		t.Errorf("Encouragement = %q, want improvement note", fb.Encouragement)
	}
	joined := strings.Join(fb.Tips, "\n")
	if !strings.Contains(joined, "Huwa") {
		t.Errorf("Tips = %q, want missed word Huwa", fb.Tips)
	}
	if !strings.Contains(joined, tajweed.DefaultCatalogue["madd"].Major) {
		t.Errorf("Tips = %q, want madd major advice", fb.Tips)
	}
	if !strings.Contains(joined, tipRetry) {
		t.Errorf("Tips = %q, want retry advice", fb.Tips)
	}

	// The result must not alias its input.
	res.Alignments[0].Status = recitation.StatusMissed
	if fb.Alignments[0].Status != recitation.StatusMatched {
		t.Error("Compose result aliases input alignments")
	}
}

func TestCompose_NotFinal(t *testing.T) {
	t.Parallel()

	snap := align.NewLive(qulHuwa).Snapshot()
	_, err := Compose(Attempt{Alignment: align.Result{Alignments: snap.Alignments}})
	if !errors.Is(err, ErrNotFinal) {
		t.Fatalf("err = %v, want ErrNotFinal", err)
	}
}

func TestDegraded(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fb := Degraded(qulHuwa, 3, nil, now)
	if !fb.Degraded || !fb.SuggestRetry {
		t.Fatalf("Degraded/SuggestRetry = %v/%v, want true/true", fb.Degraded, fb.SuggestRetry)
	}
	if fb.Accuracy != 0 || fb.Tier != recitation.TierNeedsPractice {
		t.Errorf("accuracy/tier = %d/%s, want 0/needs_practice", fb.Accuracy, fb.Tier)
	}
	if len(fb.Alignments) != len(qulHuwa) {
		t.Fatalf("len(Alignments) = %d, want %d", len(fb.Alignments), len(qulHuwa))
	}
	for i, a := range fb.Alignments {
		if a.Status != recitation.StatusMissed {
			t.Errorf("Alignments[%d].Status = %s, want missed", i, a.Status)
		}
	}
	if len(fb.Tips) != 1 || fb.Tips[0] != tipQuieter {
		t.Errorf("Tips = %q", fb.Tips)
	}

	if fb.EstimatedAccuracy != nil {
		t.Errorf("EstimatedAccuracy = %d, want nil", *fb.EstimatedAccuracy)
	}

	// A previous best is only an estimate; accuracy and tier stay tied to
	// the all-missed alignments so the retry rule holds.
	best := 91
	fb = Degraded(qulHuwa, 4, &best, now)
	if fb.Accuracy != 0 || fb.Tier != recitation.TierNeedsPractice {
		t.Errorf("with previous best: accuracy/tier = %d/%s, want 0/needs_practice", fb.Accuracy, fb.Tier)
	}
	if fb.EstimatedAccuracy == nil || *fb.EstimatedAccuracy != 91 {
		t.Errorf("EstimatedAccuracy = %v, want 91", fb.EstimatedAccuracy)
	}
	if fb.SuggestRetry != ShouldSuggestRetry(fb.Tier, fb.Findings) {
		t.Errorf("SuggestRetry = %v disagrees with tier %s", fb.SuggestRetry, fb.Tier)
	}
	best = 50
	if *fb.EstimatedAccuracy != 91 {
		t.Error("EstimatedAccuracy aliases the previous best")
	}
}
