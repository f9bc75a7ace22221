// Package recitation defines the shared data model of the Tartil engine.
//
// These types form the lingua franca between the capture layer, the
// transcriber backends, the aligner, the rule analyzer, the scorer and the
// practice session controller. They carry stable JSON field names so that
// sessions and feedback can cross a process or network boundary unchanged.
//
// Values of these types are treated as immutable once produced. Helpers that
// hand data to other owners ([FeedbackResult.Clone], [PracticeSession.Clone])
// return deep copies so that no consumer can mutate a past result.
package recitation

import (
	"slices"
	"time"
)

// Word is one word of a canonical verse in recitation order.
type Word struct {
	// Text is the word as written in the reference text, diacritics included.
	Text string `json:"text" yaml:"text"`

	// Index is the zero-based position of the word within the verse.
	Index int `json:"index" yaml:"index"`
}

// RuleAnnotation marks a tajweed rule instance at a specific word.
type RuleAnnotation struct {
	WordIndex int    `json:"wordIndex" yaml:"word_index"`
	RuleID    string `json:"ruleId" yaml:"rule_id"`
	RuleName  string `json:"ruleName" yaml:"rule_name"`
}

// CanonicalVerse is the immutable reference text a learner recites.
type CanonicalVerse struct {
	ID              string           `json:"id" yaml:"id"`
	Surah           int              `json:"surah" yaml:"surah"`
	Ayah            int              `json:"ayah" yaml:"ayah"`
	OrderedWords    []Word           `json:"orderedWords" yaml:"words"`
	RuleAnnotations []RuleAnnotation `json:"ruleAnnotations" yaml:"rules"`

	// AudioRef locates the reference recitation used in the listen phase.
	// Empty when no reference audio is available.
	AudioRef string `json:"audioRef,omitempty" yaml:"audio_ref"`
}

// Texts returns the verse words as a plain string slice in recitation order.
func (v CanonicalVerse) Texts() []string {
	out := make([]string, len(v.OrderedWords))
	for i, w := range v.OrderedWords {
		out[i] = w.Text
	}
	return out
}

// CapturedAudioSegment is the raw PCM recorded for one attempt.
// Bytes holds 16-bit signed little-endian samples.
type CapturedAudioSegment struct {
	SessionID  string    `json:"sessionId"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	SampleRate int       `json:"sampleRate"`
	Channels   int       `json:"channels"`
	Bytes      []byte    `json:"-"`
}

// Release drops the PCM payload so the buffer can be collected. The metadata
// stays readable for logging.
func (s *CapturedAudioSegment) Release() {
	if s == nil {
		return
	}
	s.Bytes = nil
}

// Released reports whether [CapturedAudioSegment.Release] has been called or
// the segment never held audio.
func (s *CapturedAudioSegment) Released() bool {
	return s == nil || s.Bytes == nil
}

// TranscribedWord is one word produced by a transcriber. OffsetMs is nil when
// the backend does not report word timing.
type TranscribedWord struct {
	Text     string `json:"text"`
	OffsetMs *int64 `json:"offsetMs,omitempty"`
}

// Words builds a TranscribedWord slice without timing from plain strings.
func Words(texts ...string) []TranscribedWord {
	out := make([]TranscribedWord, len(texts))
	for i, t := range texts {
		out[i] = TranscribedWord{Text: t}
	}
	return out
}

// WordTexts returns the text of each transcribed word.
func WordTexts(words []TranscribedWord) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Text
	}
	return out
}

// Status classifies one alignment entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusCurrent Status = "current"
	StatusMatched Status = "matched"
	StatusPartial Status = "partial"
	StatusMissed  Status = "missed"
	StatusExtra   Status = "extra"
)

// Terminal reports whether s is a finalized status.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusCurrent
}

// WordAlignment pairs an expected word with what was heard for it.
type WordAlignment struct {
	ExpectedWord    string  `json:"expectedWord"`
	ExpectedIndex   int     `json:"expectedIndex"`
	TranscribedWord *string `json:"transcribedWord"`
	Status          Status  `json:"status"`

	// Similarity is the normalized similarity of the aligned pair in [0,1].
	// Zero for missed, pending and current entries.
	Similarity float64 `json:"similarity"`
}

// Heard returns the transcribed word, or "" when none was aligned.
func (a WordAlignment) Heard() string {
	if a.TranscribedWord == nil {
		return ""
	}
	return *a.TranscribedWord
}

// Severity grades a rule finding.
type Severity string

const (
	SeverityCorrect Severity = "correct"
	SeverityMinor   Severity = "minor"
	SeverityMajor   Severity = "major"
)

// Rank orders severities: major > minor > correct.
func (s Severity) Rank() int {
	switch s {
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// RuleFinding is the verdict for one annotated rule instance.
type RuleFinding struct {
	RuleID    string   `json:"ruleId"`
	RuleName  string   `json:"ruleName"`
	WordIndex int      `json:"wordIndex"`
	Severity  Severity `json:"severity"`
	Feedback  string   `json:"feedback"`
}

// Tier is the coarse performance band derived from accuracy.
type Tier string

const (
	TierExcellent     Tier = "excellent"
	TierGood          Tier = "good"
	TierNeedsPractice Tier = "needs_practice"
)

// FeedbackResult is the terminal artifact of one attempt.
type FeedbackResult struct {
	Accuracy      int             `json:"accuracy"`
	Tier          Tier            `json:"tier"`
	Alignments    []WordAlignment `json:"alignments"`
	Extras        []WordAlignment `json:"extras"`
	Findings      []RuleFinding   `json:"findings"`
	Encouragement string          `json:"encouragement"`
	Tips          []string        `json:"tips"`

	// Degraded marks a fallback result produced without a transcription.
	// Degraded results are estimates and must never be treated as ground truth.
	Degraded bool `json:"degraded"`

	// EstimatedAccuracy is set on degraded results only: the best known
	// accuracy for the verse, shown as a hint. Accuracy and Tier of a
	// degraded result always describe its all-missed alignments.
	EstimatedAccuracy *int `json:"estimatedAccuracy,omitempty"`

	SuggestRetry  bool      `json:"suggestRetry"`
	AttemptNumber int       `json:"attemptNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Clone returns a deep copy of r.
func (r *FeedbackResult) Clone() *FeedbackResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Alignments = cloneAlignments(r.Alignments)
	c.Extras = cloneAlignments(r.Extras)
	c.Findings = slices.Clone(r.Findings)
	c.Tips = slices.Clone(r.Tips)
	if r.EstimatedAccuracy != nil {
		e := *r.EstimatedAccuracy
		c.EstimatedAccuracy = &e
	}
	return &c
}

func cloneAlignments(in []WordAlignment) []WordAlignment {
	if in == nil {
		return nil
	}
	out := make([]WordAlignment, len(in))
	for i, a := range in {
		out[i] = a
		if a.TranscribedWord != nil {
			w := *a.TranscribedWord
			out[i].TranscribedWord = &w
		}
	}
	return out
}

// Phase is the state of a practice session.
type Phase string

const (
	PhaseIntro     Phase = "intro"
	PhaseListen    Phase = "listen"
	PhaseRecord    Phase = "record"
	PhaseAnalyzing Phase = "analyzing"
	PhaseFeedback  Phase = "feedback"
	PhaseBlocked   Phase = "blocked"
	PhaseComplete  Phase = "complete"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further actions are accepted in p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseCancelled
}

// PracticeSession is the externally visible state of one practice session.
type PracticeSession struct {
	ID            string           `json:"id"`
	VerseID       string           `json:"verseId"`
	AttemptNumber int              `json:"attemptNumber"`
	Phase         Phase            `json:"phase"`
	History       []FeedbackResult `json:"history"`

	// BestAccuracy is the best non-degraded accuracy known for the verse,
	// including earlier sessions. Nil when nothing has been recorded yet.
	BestAccuracy *int      `json:"bestAccuracy,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
}

// Clone returns a deep copy of s, including every history entry.
func (s PracticeSession) Clone() PracticeSession {
	c := s
	if s.History != nil {
		c.History = make([]FeedbackResult, len(s.History))
		for i := range s.History {
			c.History[i] = *s.History[i].Clone()
		}
	}
	if s.BestAccuracy != nil {
		b := *s.BestAccuracy
		c.BestAccuracy = &b
	}
	return c
}
