// Package content provides read-only access to canonical verse data.
//
// A [Store] hands out [recitation.CanonicalVerse] values by ID or by
// surah/ayah. Verses are validated on the way in, so everything a store
// returns satisfies [Validate]. [MemStore] keeps the library in memory;
// [LoadLibrary] reads it from YAML and [Watcher] reloads it when the file
// changes.
package content

import (
	"context"
	"fmt"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// ErrNotFound is returned when no verse matches the lookup. It wraps
// [recitation.ErrInvalidVerse]: a session cannot start without its verse.
var ErrNotFound = fmt.Errorf("%w: verse not found", recitation.ErrInvalidVerse)

// Store looks up canonical verses.
//
// All implementations must be safe for concurrent use. Returned verses are
// copies; callers may not observe later reloads through them.
type Store interface {
	// Get retrieves a verse by ID.
	// Returns [ErrNotFound] when no verse with that ID exists.
	Get(ctx context.Context, id string) (recitation.CanonicalVerse, error)

	// GetVerse retrieves a verse by its surah and ayah numbers.
	// Returns [ErrNotFound] when the library has no such verse.
	GetVerse(ctx context.Context, surah, ayah int) (recitation.CanonicalVerse, error)

	// List returns all verses ordered by surah, then ayah.
	List(ctx context.Context) ([]recitation.CanonicalVerse, error)
}

// VerseID returns the default ID of a verse, "surah:ayah".
func VerseID(surah, ayah int) string {
	return fmt.Sprintf("%d:%d", surah, ayah)
}
