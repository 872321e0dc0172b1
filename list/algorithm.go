package list

import (
	"sort"

	"golang.org/x/exp/slices"
)

// OrderingAlgorithm owns the authoritative ordered sequence of rooms for one tag.
// Most update causes reposition a single room via a binary-search insertion; only
// SetRooms, SetSortAlgorithm and the degraded paths pay for a full resort. After every
// public method returns, the cached sequence is exactly what a from-scratch sort of
// the current membership with the active strategy would produce.
//
// Not safe for concurrent use: the Engine serialises all calls under its mutex.
type OrderingAlgorithm struct {
	tagID         string
	strategy      SortStrategy
	rooms         []*RoomMetadata
	roomIDToIndex map[string]int // room_id -> index in rooms
}

func NewOrderingAlgorithm(tagID string, strategy SortStrategy) (*OrderingAlgorithm, error) {
	if !strategy.Valid() {
		return nil, ErrInvalidSortStrategy
	}
	return &OrderingAlgorithm{
		tagID:         tagID,
		strategy:      strategy,
		roomIDToIndex: make(map[string]int),
	}, nil
}

func (a *OrderingAlgorithm) Tag() string {
	return a.tagID
}

func (a *OrderingAlgorithm) SortStrategy() SortStrategy {
	return a.strategy
}

// MutedToBottom reports whether consumers should partition muted rooms to a visual
// tail. Only meaningful under recency ordering: pinning muted rooms to the bottom of
// an alphabetic or manual list would fight the order the user chose.
func (a *OrderingAlgorithm) MutedToBottom() bool {
	return a.strategy == SortRecency
}

// SetSortAlgorithm replaces the active strategy and resorts the current membership.
// The only operation other than SetRooms which is allowed to be O(n log n). Rejects
// invalid strategies with ErrInvalidSortStrategy, leaving prior state unchanged.
func (a *OrderingAlgorithm) SetSortAlgorithm(strategy SortStrategy) error {
	if !strategy.Valid() {
		return ErrInvalidSortStrategy
	}
	a.strategy = strategy
	a.rooms = sortRooms(a.rooms, a.tagID, a.strategy)
	a.reindex()
	return nil
}

// SetRooms replaces the full membership for this tag and resorts, e.g on initial load
// or bulk resync. Duplicate room IDs keep their first occurrence. Idempotent.
func (a *OrderingAlgorithm) SetRooms(rooms []*RoomMetadata) {
	deduped := make([]*RoomMetadata, 0, len(rooms))
	seen := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		if r == nil {
			continue
		}
		if _, ok := seen[r.RoomID]; ok {
			continue
		}
		seen[r.RoomID] = struct{}{}
		deduped = append(deduped, r)
	}
	a.rooms = sortRooms(deduped, a.tagID, a.strategy)
	a.reindex()
}

// HandleRoomUpdate incrementally applies one update. Returns whether the visible
// ordering actually changed, so callers can skip redundant re-renders.
func (a *OrderingAlgorithm) HandleRoomUpdate(room *RoomMetadata, cause Cause) bool {
	if room == nil {
		return false
	}
	switch cause {
	case CauseNewMessage, CauseReadReceipt:
		// only recency cares about activity; the other orders are unaffected
		if a.strategy != SortRecency {
			return false
		}
		return a.reposition(room)
	case CauseMembersChanged:
		// membership only moves rooms whose name is derived from the members (DMs)
		if a.strategy != SortAlphabetic {
			return false
		}
		return a.reposition(room)
	case CauseTagChanged, CausePossibleTagChange:
		if room.HasTag(a.tagID) {
			if _, ok := a.IndexOf(room); ok {
				// already a member: the manual order number may have moved it
				return a.reposition(room)
			}
			a.insert(room)
			return true
		}
		return a.remove(room)
	case CauseRoomRemoved:
		return a.remove(room)
	default:
		// CauseTimeline and any cause we don't special-case: resort from scratch to
		// guarantee correctness over performance.
		return a.mergeResort(room)
	}
}

// IndexOf is the O(1) lookup with an O(n) back-stop. If the index map misses, fall
// back to a linear scan matching by room ID before declaring the room absent: the
// caller may have handed us a different in-memory instance for the same logical room.
// Finding nothing after the scan is a caller bug (the room is not a member of this
// tag), which is reported as not-found rather than an error.
func (a *OrderingAlgorithm) IndexOf(room *RoomMetadata) (int, bool) {
	index, ok := a.roomIDToIndex[room.RoomID]
	if ok {
		return index, true
	}
	for i, r := range a.rooms {
		if r.RoomID == room.RoomID {
			logger.Warn().Str("tag", a.tagID).Str("room", room.RoomID).Msg(
				"IndexOf: index map missed, found room by linear scan",
			)
			a.roomIDToIndex[room.RoomID] = i
			return i, true
		}
	}
	return -1, false
}

// OrderedRooms returns a copy of the cached ordered sequence. The copy is replaced
// wholesale on each call so consumers can iterate it without locking.
func (a *OrderingAlgorithm) OrderedRooms() []*RoomMetadata {
	rooms := make([]*RoomMetadata, len(a.rooms))
	copy(rooms, a.rooms)
	return rooms
}

// RoomIDs returns the room IDs in their current order.
func (a *OrderingAlgorithm) RoomIDs() []string {
	roomIDs := make([]string, len(a.rooms))
	for i := range a.rooms {
		roomIDs[i] = a.rooms[i].RoomID
	}
	return roomIDs
}

func (a *OrderingAlgorithm) Len() int {
	return len(a.rooms)
}

// reposition splices the room out of its current position and reinserts it at the
// position its current attributes dictate. O(log n) positioning, O(n) array shift.
func (a *OrderingAlgorithm) reposition(room *RoomMetadata) bool {
	index, ok := a.IndexOf(room)
	if !ok {
		if room.HasTag(a.tagID) {
			// the caller believes this room is a member but the cache disagrees.
			// Self-heal with a full resort rather than surfacing an error.
			logger.Warn().Str("tag", a.tagID).Str("room", room.RoomID).Msg(
				"reposition: room missing from cached list, degrading to full resort",
			)
			return a.mergeResort(room)
		}
		return false
	}
	a.rooms = slices.Delete(a.rooms, index, index+1)
	newIndex := a.insertionPoint(room)
	a.rooms = slices.Insert(a.rooms, newIndex, room)
	if newIndex > index {
		a.reindexFrom(index)
	} else {
		a.reindexFrom(newIndex)
	}
	return newIndex != index
}

func (a *OrderingAlgorithm) insert(room *RoomMetadata) {
	index := a.insertionPoint(room)
	a.rooms = slices.Insert(a.rooms, index, room)
	a.reindexFrom(index)
}

func (a *OrderingAlgorithm) remove(room *RoomMetadata) bool {
	index, ok := a.IndexOf(room)
	if !ok {
		// removing an absent room is a no-op, not an error
		return false
	}
	delete(a.roomIDToIndex, room.RoomID)
	a.rooms = slices.Delete(a.rooms, index, index+1)
	a.reindexFrom(index)
	return true
}

// insertionPoint returns the index at which the room slots into the current order:
// after any rooms it compares equal to, which is where a stable sort of the existing
// members followed by this room would put it.
func (a *OrderingAlgorithm) insertionPoint(room *RoomMetadata) int {
	cmp := comparatorForStrategy(a.strategy, a.tagID)
	return sort.Search(len(a.rooms), func(i int) bool {
		return cmp(room, a.rooms[i]) == 1
	})
}

// mergeResort folds the given room into the member set, replacing any previous
// instance of it, and resorts everything. The slow path: guarantees correctness when
// the incremental paths cannot.
func (a *OrderingAlgorithm) mergeResort(room *RoomMetadata) bool {
	before := a.RoomIDs()
	merged := make([]*RoomMetadata, 0, len(a.rooms)+1)
	replaced := false
	for _, r := range a.rooms {
		if r.RoomID == room.RoomID {
			merged = append(merged, room)
			replaced = true
			continue
		}
		merged = append(merged, r)
	}
	if !replaced && room.HasTag(a.tagID) {
		merged = append(merged, room)
	}
	a.rooms = sortRooms(merged, a.tagID, a.strategy)
	a.reindex()
	return !slices.Equal(before, a.RoomIDs())
}

func (a *OrderingAlgorithm) reindex() {
	a.roomIDToIndex = make(map[string]int, len(a.rooms))
	a.reindexFrom(0)
}

func (a *OrderingAlgorithm) reindexFrom(index int) {
	for i := index; i < len(a.rooms); i++ {
		a.roomIDToIndex[a.rooms[i].RoomID] = i
	}
}
