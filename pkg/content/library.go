package content

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// LibraryFile is the top-level structure of a verse library YAML file.
//
// Words may be listed one by one or given as a single space-separated
// text; word indexes default to their position. The verse ID defaults to
// "surah:ayah".
//
// Example:
//
//	name: "Juz Amma"
//	verses:
//	  - surah: 112
//	    ayah: 1
//	    text: "قُلْ هُوَ ٱللَّهُ أَحَدٌ"
//	    audio_ref: "audio/112-1.wav"
//	    rules:
//	      - word_index: 3
//	        rule_id: qalqalah
//	        rule_name: "Qalqalah"
type LibraryFile struct {
	// Name is the library's display name.
	Name   string        `yaml:"name"`
	Verses []VerseSource `yaml:"verses"`
}

// VerseSource is one verse as authored in YAML.
type VerseSource struct {
	recitation.CanonicalVerse `yaml:",inline"`

	// Text is a shorthand for Words: the verse split on whitespace.
	Text string `yaml:"text"`
}

// Verse converts the authored form into a canonical verse with defaults
// applied. It does not validate.
func (vs VerseSource) Verse() recitation.CanonicalVerse {
	v := cloneVerse(vs.CanonicalVerse)
	if len(v.OrderedWords) == 0 && vs.Text != "" {
		for i, w := range strings.Fields(vs.Text) {
			v.OrderedWords = append(v.OrderedWords, recitation.Word{Text: w, Index: i})
		}
	}
	if allIndexesZero(v.OrderedWords) {
		for i := range v.OrderedWords {
			v.OrderedWords[i].Index = i
		}
	}
	if v.ID == "" {
		v.ID = VerseID(v.Surah, v.Ayah)
	}
	return v
}

func allIndexesZero(words []recitation.Word) bool {
	for _, w := range words {
		if w.Index != 0 {
			return false
		}
	}
	return true
}

// LoadLibrary reads, parses and validates a verse library file.
func LoadLibrary(path string) ([]recitation.CanonicalVerse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("content: open library %q: %w", path, err)
	}
	defer f.Close()

	verses, err := LoadLibraryFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("content: library %q: %w", path, err)
	}
	return verses, nil
}

// LoadLibraryFromReader parses library YAML from an [io.Reader] and
// validates every verse. The reader is consumed entirely; the caller is
// responsible for closing it.
func LoadLibraryFromReader(r io.Reader) ([]recitation.CanonicalVerse, error) {
	var lf LibraryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&lf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("content: decode library yaml: %w", err)
	}

	verses := make([]recitation.CanonicalVerse, 0, len(lf.Verses))
	for _, vs := range lf.Verses {
		v := vs.Verse()
		if err := Validate(v); err != nil {
			return nil, err
		}
		verses = append(verses, v)
	}
	return verses, nil
}
