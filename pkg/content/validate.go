package content

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// Surahs is the number of surahs in the Quran.
const Surahs = 114

// Validate checks a verse for structural consistency. The returned error
// wraps [recitation.ErrInvalidVerse] and joins every violation found.
//
// Rules:
//   - ID must be non-empty.
//   - Surah must be in [1, 114] and Ayah positive.
//   - There must be at least one word; every word must be non-blank and its
//     Index must equal its position.
//   - Every rule annotation must point at an existing word and carry a
//     rule ID.
func Validate(v recitation.CanonicalVerse) error {
	var errs []error

	if v.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if v.Surah < 1 || v.Surah > Surahs {
		errs = append(errs, fmt.Errorf("surah %d out of range [1,%d]", v.Surah, Surahs))
	}
	if v.Ayah < 1 {
		errs = append(errs, fmt.Errorf("ayah %d must be positive", v.Ayah))
	}
	if len(v.OrderedWords) == 0 {
		errs = append(errs, errors.New("verse has no words"))
	}
	for i, w := range v.OrderedWords {
		if strings.TrimSpace(w.Text) == "" {
			errs = append(errs, fmt.Errorf("word[%d]: text must not be empty", i))
		}
		if w.Index != i {
			errs = append(errs, fmt.Errorf("word[%d]: index %d does not match position", i, w.Index))
		}
	}
	for i, a := range v.RuleAnnotations {
		if a.WordIndex < 0 || a.WordIndex >= len(v.OrderedWords) {
			errs = append(errs, fmt.Errorf("rule[%d]: word_index %d out of range", i, a.WordIndex))
		}
		if a.RuleID == "" {
			errs = append(errs, fmt.Errorf("rule[%d]: rule_id must not be empty", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", recitation.ErrInvalidVerse, v.ID, errors.Join(errs...))
}
