package align

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letterFolds maps letter variants that are recited identically (or that
// transcribers emit interchangeably) onto one canonical letter. Hamza
// carriers are handled by NFD decomposition before this table applies.
var letterFolds = map[rune]rune{
	'ٱ': 'ا', // alef wasla
	'ة': 'ه', // ta marbuta
	'ى': 'ي', // alef maqsura
	'ی': 'ي', // farsi yeh
	'ک': 'ك', // keheh
}

// Normalize returns the pronunciation-normalized form of word: vowel marks
// and other combining diacritics stripped, tatweel and punctuation removed,
// letter variants folded, lower-cased, whitespace collapsed.
//
// Normalize is safe for concurrent use.
func Normalize(word string) string {
	// The chain is stateful, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, word)
	if err != nil {
		stripped = word
	}

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		switch {
		case r == 'ـ': // tatweel
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Mn, r):
			continue
		}
		if f, ok := letterFolds[r]; ok {
			r = f
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Similarity returns the normalized string similarity of a and b in [0,1],
// computed as 1 - levenshtein/maxLen over the normalized rune sequences.
// Identical normalized forms score 1.0.
func Similarity(a, b string) float64 {
	return similarityNormalized(Normalize(a), Normalize(b))
}

func similarityNormalized(na, nb string) float64 {
	if na == nb {
		return 1
	}
	maxLen := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	if maxLen == 0 {
		return 1
	}
	d := matchr.Levenshtein(na, nb)
	s := 1 - float64(d)/float64(maxLen)
	return min(max(s, 0), 1)
}
