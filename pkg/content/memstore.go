package content

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type surahAyah struct{ surah, ayah int }

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	verses map[string]recitation.CanonicalVerse
	byRef  map[surahAyah]string
}

// NewMemStore returns a [MemStore] holding verses. It fails if any verse is
// invalid or two verses share an ID or a surah/ayah pair.
func NewMemStore(verses ...recitation.CanonicalVerse) (*MemStore, error) {
	s := &MemStore{}
	if err := s.Replace(verses); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace atomically swaps the whole library. On error the store is left
// unchanged.
func (s *MemStore) Replace(verses []recitation.CanonicalVerse) error {
	byID := make(map[string]recitation.CanonicalVerse, len(verses))
	byRef := make(map[surahAyah]string, len(verses))
	for _, v := range verses {
		if err := Validate(v); err != nil {
			return err
		}
		if _, dup := byID[v.ID]; dup {
			return fmt.Errorf("content: duplicate verse id %q", v.ID)
		}
		ref := surahAyah{v.Surah, v.Ayah}
		if other, dup := byRef[ref]; dup {
			return fmt.Errorf("content: verses %q and %q are both %d:%d", other, v.ID, v.Surah, v.Ayah)
		}
		byID[v.ID] = cloneVerse(v)
		byRef[ref] = v.ID
	}

	s.mu.Lock()
	s.verses = byID
	s.byRef = byRef
	s.mu.Unlock()
	return nil
}

// Len returns the number of verses held.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.verses)
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (recitation.CanonicalVerse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.verses[id]
	if !ok {
		return recitation.CanonicalVerse{}, fmt.Errorf("content: get %q: %w", id, ErrNotFound)
	}
	return cloneVerse(v), nil
}

// GetVerse implements [Store.GetVerse].
func (s *MemStore) GetVerse(_ context.Context, surah, ayah int) (recitation.CanonicalVerse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[surahAyah{surah, ayah}]
	if !ok {
		return recitation.CanonicalVerse{}, fmt.Errorf("content: get %d:%d: %w", surah, ayah, ErrNotFound)
	}
	return cloneVerse(s.verses[id]), nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context) ([]recitation.CanonicalVerse, error) {
	s.mu.RLock()
	result := make([]recitation.CanonicalVerse, 0, len(s.verses))
	for _, v := range s.verses {
		result = append(result, cloneVerse(v))
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b recitation.CanonicalVerse) int {
		return cmp.Or(cmp.Compare(a.Surah, b.Surah), cmp.Compare(a.Ayah, b.Ayah))
	})
	return result, nil
}

func cloneVerse(v recitation.CanonicalVerse) recitation.CanonicalVerse {
	v.OrderedWords = slices.Clone(v.OrderedWords)
	v.RuleAnnotations = slices.Clone(v.RuleAnnotations)
	return v
}
