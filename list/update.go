package list

// Cause describes why a room update was requested. Causes are ephemeral: they are
// produced and consumed within a single NotifyRoomUpdate call and never stored.
type Cause uint8

const (
	// CauseNewMessage is a new timeline event in the room.
	CauseNewMessage Cause = iota + 1
	// CauseReadReceipt is the user's read marker moving.
	CauseReadReceipt
	// CauseTagChanged is the room being added to or removed from a tag, or its manual
	// order number within a tag changing.
	CauseTagChanged
	// CausePossibleTagChange means tag membership is uncertain and must be rechecked
	// against the room's current tags.
	CausePossibleTagChange
	// CauseRoomRemoved is the room going away entirely (left, forgotten).
	CauseRoomRemoved
	// CauseMembersChanged is a membership change, which can rename DM-style rooms.
	CauseMembersChanged
	// CauseTimeline is a bulk timeline replacement, e.g after a reconnect with a gappy
	// sync. Always forces a full resort.
	CauseTimeline
)

func (c Cause) String() string {
	switch c {
	case CauseNewMessage:
		return "new_message"
	case CauseReadReceipt:
		return "read_receipt"
	case CauseTagChanged:
		return "tag_changed"
	case CausePossibleTagChange:
		return "possible_tag_change"
	case CauseRoomRemoved:
		return "room_removed"
	case CauseMembersChanged:
		return "members_changed"
	case CauseTimeline:
		return "timeline"
	}
	return "unknown"
}
