package list

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortStrategy determines how the rooms within a single tag are ordered.
type SortStrategy string

const (
	// SortAlphabetic orders rooms by display name, case- and accent-insensitively.
	SortAlphabetic SortStrategy = "alphabetic"
	// SortManual orders rooms by the per-tag order number set when the user drags
	// rooms around. Unset orders count as 0.
	SortManual SortStrategy = "manual"
	// SortRecency orders rooms most-recently-active first.
	SortRecency SortStrategy = "recency"
)

// ErrInvalidSortStrategy is returned when a sort strategy is unknown or empty. It is
// the only error the engine ever surfaces to callers.
var ErrInvalidSortStrategy = errors.New("invalid sort strategy")

func (s SortStrategy) Valid() bool {
	switch s {
	case SortAlphabetic, SortManual, SortRecency:
		return true
	}
	return false
}

// collate.Collator reuses internal buffers so it is not safe for concurrent use.
// Sorting happens under the engine mutex but the strategies themselves are pure
// functions callable from anywhere, so guard the collator here.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und, collate.Loose)
)

func compareNames(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// sortRooms returns a new slice containing the given rooms ordered by the given
// strategy. It is pure: the input slice is not modified, identical inputs produce
// identical outputs, and rooms which compare equal retain their relative input order.
// Malformed inputs never fail: a missing name sorts as the empty string and a missing
// timestamp as 0.
func sortRooms(rooms []*RoomMetadata, tag string, strategy SortStrategy) []*RoomMetadata {
	if len(rooms) == 0 {
		return nil
	}
	sorted := make([]*RoomMetadata, len(rooms))
	copy(sorted, rooms)
	cmp := comparatorForStrategy(strategy, tag)
	sort.SliceStable(sorted, func(i, j int) bool {
		return cmp(sorted[i], sorted[j]) == 1
	})
	return sorted
}

// Comparator functions: -1 = false, +1 = true, 0 = match

func comparatorForStrategy(strategy SortStrategy, tag string) func(a, b *RoomMetadata) int {
	switch strategy {
	case SortAlphabetic:
		return comparatorAlphabetic
	case SortManual:
		return func(a, b *RoomMetadata) int {
			return comparatorManual(a, b, tag)
		}
	default:
		// unknown strategies cannot reach here: they are rejected on the way in
		return comparatorRecency
	}
}

func comparatorAlphabetic(a, b *RoomMetadata) int {
	ka, kb := a.collationKey(), b.collationKey()
	res := compareNames(ka, kb)
	if res == 0 {
		return 0
	}
	if res < 0 {
		return 1
	}
	return -1
}

func comparatorManual(a, b *RoomMetadata, tag string) int {
	oa, ob := a.ManualOrder(tag), b.ManualOrder(tag)
	if oa == ob {
		return 0
	}
	if oa < ob {
		return 1
	}
	return -1
}

func comparatorRecency(a, b *RoomMetadata) int {
	if a.LastActivityTimestamp == b.LastActivityTimestamp {
		return 0
	}
	if a.LastActivityTimestamp > b.LastActivityTimestamp {
		return 1
	}
	return -1
}
