package feedback

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/tartil/internal/align"
	"github.com/MrWong99/tartil/internal/tajweed"
	"github.com/MrWong99/tartil/pkg/recitation"
)

const (
	maxRuleTips = 2
	maxWordTips = 3
)

const (
	tipQuieter = "Transcription was unavailable for this attempt. Try again in a quieter environment, closer to the microphone."
	tipRetry   = "Listen to the reference recitation once more, then try again."
)

// Attempt is the input to [Compose].
type Attempt struct {
	Alignment     align.Result
	Findings      []recitation.RuleFinding
	AttemptNumber int

	// PreviousBest is the best non-degraded accuracy known before this
	// attempt, nil when there is none.
	PreviousBest *int

	Now time.Time
}

// Compose scores a finalized attempt and builds its feedback. The returned
// result shares no memory with the input.
func Compose(a Attempt) (*recitation.FeedbackResult, error) {
	score, err := Aggregate(a.Alignment.Alignments, a.Findings)
	if err != nil {
		return nil, err
	}

	res := &recitation.FeedbackResult{
		Accuracy:      score.Accuracy,
		Tier:          score.Tier,
		Alignments:    a.Alignment.Alignments,
		Extras:        a.Alignment.Extras,
		Findings:      a.Findings,
		Encouragement: encouragement(score, a.PreviousBest),
		Tips:          tips(a.Alignment.Alignments, a.Findings, score.SuggestRetry),
		SuggestRetry:  score.SuggestRetry,
		AttemptNumber: a.AttemptNumber,
		CreatedAt:     a.Now,
	}
	if res.Extras == nil {
		res.Extras = []recitation.WordAlignment{}
	}
	if res.Findings == nil {
		res.Findings = []recitation.RuleFinding{}
	}
	return res.Clone(), nil
}

// Degraded builds the fallback result used when no transcription could be
// obtained. Every word is reported missed and no rule is graded, so the
// result scores 0 and needs practice. The previous best, when known, is
// carried as EstimatedAccuracy only.
func Degraded(expected []string, attemptNumber int, previousBest *int, now time.Time) *recitation.FeedbackResult {
	var estimate *int
	if previousBest != nil {
		e := *previousBest
		estimate = &e
	}
	alignments := make([]recitation.WordAlignment, len(expected))
	for i, w := range expected {
		alignments[i] = recitation.WordAlignment{
			ExpectedWord:  w,
			ExpectedIndex: i,
			Status:        recitation.StatusMissed,
		}
	}
	tier := Tier(0)
	return &recitation.FeedbackResult{
		Accuracy:          0,
		Tier:              tier,
		Alignments:        alignments,
		Extras:            []recitation.WordAlignment{},
		Findings:          []recitation.RuleFinding{},
		Encouragement:     "We couldn't hear this attempt clearly, but every recitation is practice. Let's try once more.",
		Tips:              []string{tipQuieter},
		Degraded:          true,
		EstimatedAccuracy: estimate,
		SuggestRetry:      ShouldSuggestRetry(tier, nil),
		AttemptNumber:     attemptNumber,
		CreatedAt:         now,
	}
}

func encouragement(s Score, previousBest *int) string {
	var base string
	switch s.Tier {
	case recitation.TierExcellent:
		base = "Excellent recitation, masha'Allah!"
	case recitation.TierGood:
		base = "Good recitation. You're close to mastering this verse."
	default:
		base = "Keep going. Every attempt brings you closer."
	}
	if previousBest != nil && s.Accuracy > *previousBest {
		return fmt.Sprintf("%s You improved from %d%% to %d%%.", base, *previousBest, s.Accuracy)
	}
	return base
}

func tips(alignments []recitation.WordAlignment, findings []recitation.RuleFinding, retry bool) []string {
	out := []string{}

	var missed, partial []string
	for _, a := range alignments {
		switch a.Status {
		case recitation.StatusMissed:
			missed = append(missed, a.ExpectedWord)
		case recitation.StatusPartial:
			partial = append(partial, a.ExpectedWord)
		}
	}
	if len(missed) > 0 {
		out = append(out, "Words to practice: "+joinWords(missed))
	}
	if len(partial) > 0 {
		out = append(out, "Pronounce these more clearly: "+joinWords(partial))
	}
	for _, f := range tajweed.Top(findings, maxRuleTips) {
		out = append(out, f.Feedback)
	}
	if retry {
		out = append(out, tipRetry)
	}
	return out
}

func joinWords(words []string) string {
	if len(words) > maxWordTips {
		return strings.Join(words[:maxWordTips], ", ") + fmt.Sprintf(" and %d more", len(words)-maxWordTips)
	}
	return strings.Join(words, ", ")
}
