package align

import (
	"math"
	"reflect"
	"testing"

	"github.com/MrWong99/tartil/pkg/recitation"
)

var qulHuwa = []string{"Qul", "Huwa", "Allahu", "Ahad"}

func statuses(as []recitation.WordAlignment) []recitation.Status {
	out := make([]recitation.Status, len(as))
	for i, a := range as {
		out[i] = a.Status
	}
	return out
}

func TestAlign_LengthAlwaysMatchesExpected(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		expected    []string
		transcribed []string
	}{
		{"empty both", nil, nil},
		{"empty transcript", qulHuwa, nil},
		{"empty expected", nil, []string{"qul", "huwa"}},
		{"shorter transcript", qulHuwa, []string{"qul"}},
		{"longer transcript", qulHuwa, []string{"a", "qul", "b", "huwa", "c", "allahu", "ahad", "d"}},
		{"garbage", qulHuwa, []string{"xyz", "zzz", "www", "vvv", "uuu"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Align(tc.expected, tc.transcribed)
			if len(res.Alignments) != len(tc.expected) {
				t.Fatalf("len(Alignments) = %d, want %d", len(res.Alignments), len(tc.expected))
			}
			for i, a := range res.Alignments {
				if a.ExpectedIndex != i {
					t.Errorf("Alignments[%d].ExpectedIndex = %d", i, a.ExpectedIndex)
				}
				if !a.Status.Terminal() || a.Status == recitation.StatusExtra {
					t.Errorf("Alignments[%d].Status = %q", i, a.Status)
				}
			}
			for i, e := range res.Extras {
				if e.ExpectedIndex != -1 || e.Status != recitation.StatusExtra {
					t.Errorf("Extras[%d] = %+v, want extra with index -1", i, e)
				}
			}
		})
	}
}

func TestAlign_PerfectTranscription(t *testing.T) {
	t.Parallel()

	res := Align(qulHuwa, []string{"qul", "huwa", "allahu", "ahad"})
	for i, a := range res.Alignments {
		if a.Status != recitation.StatusMatched {
			t.Errorf("Alignments[%d].Status = %q, want matched", i, a.Status)
		}
		if a.Similarity != 1 {
			t.Errorf("Alignments[%d].Similarity = %v, want 1", i, a.Similarity)
		}
	}
	if len(res.Extras) != 0 {
		t.Errorf("Extras = %v, want none", res.Extras)
	}
}

func TestAlign_EmptyTranscriptionAllMissed(t *testing.T) {
	t.Parallel()

	res := Align(qulHuwa, nil)
	for i, a := range res.Alignments {
		if a.Status != recitation.StatusMissed {
			t.Errorf("Alignments[%d].Status = %q, want missed", i, a.Status)
		}
		if a.TranscribedWord != nil {
			t.Errorf("Alignments[%d].TranscribedWord = %q, want nil", i, *a.TranscribedWord)
		}
	}
}

func TestAlign_PartialPronunciation(t *testing.T) {
	t.Parallel()

	res := Align(qulHuwa, []string{"Qul", "Huwa", "Allah", "Ahad"})
	want := []recitation.Status{
		recitation.StatusMatched,
		recitation.StatusMatched,
		recitation.StatusPartial,
		recitation.StatusMatched,
	}
	if got := statuses(res.Alignments); !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if got := res.Alignments[2].Heard(); got != "Allah" {
		t.Errorf("Alignments[2].Heard() = %q, want Allah", got)
	}
	if s := res.Alignments[2].Similarity; math.Abs(s-5.0/6.0) > 1e-9 {
		t.Errorf("Alignments[2].Similarity = %v, want %v", s, 5.0/6.0)
	}
	m, p, x := res.Counts()
	if m != 3 || p != 1 || x != 0 {
		t.Errorf("Counts() = %d,%d,%d, want 3,1,0", m, p, x)
	}
}

func TestAlign_DissimilarPairBecomesMissedAndExtra(t *testing.T) {
	t.Parallel()

	res := Align([]string{"qul"}, []string{"zzzz"})
	if res.Alignments[0].Status != recitation.StatusMissed {
		t.Fatalf("Status = %q, want missed", res.Alignments[0].Status)
	}
	if len(res.Extras) != 1 || res.Extras[0].Heard() != "zzzz" {
		t.Fatalf("Extras = %+v, want [zzzz]", res.Extras)
	}
}

func TestAlign_SkippedWordIsMissed(t *testing.T) {
	t.Parallel()

	res := Align(qulHuwa, []string{"qul", "allahu", "ahad"})
	want := []recitation.Status{
		recitation.StatusMatched,
		recitation.StatusMissed,
		recitation.StatusMatched,
		recitation.StatusMatched,
	}
	if got := statuses(res.Alignments); !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
}

func TestAlign_InsertedWordIsExtra(t *testing.T) {
	t.Parallel()

	res := Align(qulHuwa, []string{"qul", "um", "huwa", "allahu", "ahad"})
	for i, a := range res.Alignments {
		if a.Status != recitation.StatusMatched {
			t.Errorf("Alignments[%d].Status = %q, want matched", i, a.Status)
		}
	}
	if len(res.Extras) != 1 || res.Extras[0].Heard() != "um" {
		t.Fatalf("Extras = %+v, want [um]", res.Extras)
	}
}

func TestAlign_Idempotent(t *testing.T) {
	t.Parallel()

	tr := []string{"qul", "hua", "allah", "ahad", "amin"}
	a := Align(qulHuwa, tr)
	b := Align(qulHuwa, tr)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Align not idempotent:\n%+v\n%+v", a, b)
	}
}

func TestAlign_ArabicDiacriticsIgnored(t *testing.T) {
	t.Parallel()

	expected := []string{"قُلْ", "هُوَ", "ٱللَّهُ", "أَحَدٌ"}
	transcribed := []string{"قل", "هو", "الله", "احد"}
	res := Align(expected, transcribed)
	for i, a := range res.Alignments {
		if a.Status != recitation.StatusMatched {
			t.Errorf("Alignments[%d] (%s vs %s) status = %q, similarity %v, want matched",
				i, a.ExpectedWord, a.Heard(), a.Status, a.Similarity)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Qul", "qul"},
		{"  Huwa,  ", "huwa"},
		{"قُلْ", "قل"},
		{"ٱللَّهُ", "الله"},
		{"أَحَدٌ", "احد"},
		{"رحمة", "رحمه"},
		{"هدى", "هدي"},
		{"الـــله", "الله"},
		{"café", "cafe"},
		{"a  b", "a b"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	if s := Similarity("Allahu", "allahu"); s != 1 {
		t.Errorf("Similarity(identical) = %v, want 1", s)
	}
	if s := Similarity("", ""); s != 1 {
		t.Errorf("Similarity(empty, empty) = %v, want 1", s)
	}
	if s := Similarity("abc", ""); s != 0 {
		t.Errorf("Similarity(abc, empty) = %v, want 0", s)
	}
	if s := Similarity("abcd", "wxyz"); s != 0 {
		t.Errorf("Similarity(disjoint) = %v, want 0", s)
	}
}
