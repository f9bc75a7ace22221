package tajweed

import (
	"fmt"
	"strings"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// Messages holds the learner-facing text for one rule at each severity.
type Messages struct {
	Correct string `yaml:"correct"`
	Minor   string `yaml:"minor"`
	Major   string `yaml:"major"`
}

// Catalogue maps rule IDs to their messages.
type Catalogue map[string]Messages

// DefaultCatalogue covers the common rule families.
var DefaultCatalogue = Catalogue{
	"ghunnah": {
		Correct: "Nice nasal sound (ghunnah) held for two counts.",
		Minor:   "Hold the ghunnah a little longer, about two counts through the nose.",
		Major:   "The ghunnah was not heard. Let the sound resonate through the nose for two counts.",
	},
	"idgham": {
		Correct: "Good merging (idgham) into the next letter.",
		Minor:   "Merge the noon sound more smoothly into the following letter.",
		Major:   "The idgham was missed. Blend the noon into the next letter instead of pronouncing it separately.",
	},
	"ikhfa": {
		Correct: "Good concealment (ikhfa) of the noon.",
		Minor:   "Hide the noon a bit more, keeping a light nasal sound.",
		Major:   "The ikhfa was missed. Conceal the noon with a nasal sound rather than pronouncing it clearly.",
	},
	"iqlab": {
		Correct: "Good conversion (iqlab) of the noon into a meem sound.",
		Minor:   "Turn the noon more clearly into a hidden meem before the ba.",
		Major:   "The iqlab was missed. Change the noon into a meem sound with ghunnah before the ba.",
	},
	"izhar": {
		Correct: "Clear pronunciation (izhar) of the noon.",
		Minor:   "Pronounce the noon a little more clearly without nasal blending.",
		Major:   "The izhar was missed. Pronounce the noon clearly before a throat letter.",
	},
	"qalqalah": {
		Correct: "Good echoing bounce (qalqalah).",
		Minor:   "Add a slightly stronger bounce on the qalqalah letter.",
		Major:   "The qalqalah was missed. Let the letter bounce with a light echo when it carries sukun.",
	},
	"madd": {
		Correct: "Well-measured elongation (madd).",
		Minor:   "Stretch the vowel a little more to reach the full madd length.",
		Major:   "The madd was missed. Elongate the vowel for its required count.",
	},
	"tafkhim": {
		Correct: "Nice full, heavy pronunciation (tafkhim).",
		Minor:   "Make the heavy letter a bit fuller by raising the back of the tongue.",
		Major:   "The tafkhim was missed. Pronounce the heavy letter with a full mouth.",
	},
	"tarqiq": {
		Correct: "Nice light pronunciation (tarqiq).",
		Minor:   "Keep the letter a bit lighter.",
		Major:   "The tarqiq was missed. Pronounce the letter lightly without heaviness.",
	},
}

// Message returns the text for ruleID at severity. Unknown rules get a
// generic message naming ruleName.
func (c Catalogue) Message(ruleID, ruleName string, sev recitation.Severity) string {
	if m, ok := c[strings.ToLower(ruleID)]; ok {
		switch sev {
		case recitation.SeverityMajor:
			return m.Major
		case recitation.SeverityMinor:
			return m.Minor
		default:
			return m.Correct
		}
	}

	name := ruleName
	if name == "" {
		name = ruleID
	}
	switch sev {
	case recitation.SeverityMajor:
		return fmt.Sprintf("The %s rule was not applied. Listen to the reference and try this word again.", name)
	case recitation.SeverityMinor:
		return fmt.Sprintf("Almost there with %s. Pay a little more attention to it.", name)
	default:
		return fmt.Sprintf("%s applied correctly.", name)
	}
}
