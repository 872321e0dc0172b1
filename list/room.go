package list

import (
	"github.com/matrix-org/roomlist/internal"
)

// RoomMetadata is the read-only view of a room that the engine sorts on. The engine
// never mutates a RoomMetadata it is handed; callers own the struct and are expected
// to hand in a fresh copy when attributes change.
type RoomMetadata struct {
	RoomID string
	// NameEvent is the content of m.room.name, NOT the calculated name
	NameEvent      string
	CanonicalAlias string
	// Name is the calculated display name for this room (m.room.name, else canonical
	// alias, else a name derived from the members).
	Name string
	// CanonicalisedName is the collation input for alphabetic sorting: lowercased with
	// sigils stripped. Derived from Name; kept separate so it is computed once per
	// update rather than once per comparison.
	CanonicalisedName string
	// Tags maps tag ID to the optional manual order number for this room within that
	// tag. A nil value means no explicit order was set.
	Tags map[string]*float64
	// LastActivityTimestamp is in milliseconds. Zero means no activity known.
	LastActivityTimestamp uint64
	Muted                 bool

	// membership info feeding the calculated name of DM-style rooms
	JoinCount   int
	InviteCount int
	Heroes      []internal.Hero
}

// HasTag returns true if the caller has asserted this room belongs to the given tag.
func (m *RoomMetadata) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

// ManualOrder returns the manual order number for this room within the given tag,
// defaulting to 0 when unset. Lower orders sort first, matching m.tag semantics.
func (m *RoomMetadata) ManualOrder(tag string) float64 {
	order, ok := m.Tags[tag]
	if !ok || order == nil {
		return 0
	}
	return *order
}

// CalculateRoomName sets Name and CanonicalisedName from the room's current state.
func (m *RoomMetadata) CalculateRoomName() {
	m.Name = internal.CalculateRoomName(m.NameEvent, m.CanonicalAlias, 5, internal.HeroInfo{
		Heroes:      m.Heroes,
		JoinCount:   m.JoinCount,
		InviteCount: m.InviteCount,
	})
	m.CanonicalisedName = internal.CanonicaliseRoomName(m.Name)
}

// Copy returns a deep enough copy that mutating it cannot be observed through the
// original: the tags map and heroes slice are cloned.
func (m *RoomMetadata) Copy() *RoomMetadata {
	c := *m
	c.Tags = make(map[string]*float64, len(m.Tags))
	for tag, order := range m.Tags {
		if order != nil {
			o := *order
			c.Tags[tag] = &o
		} else {
			c.Tags[tag] = nil
		}
	}
	c.Heroes = make([]internal.Hero, len(m.Heroes))
	copy(c.Heroes, m.Heroes)
	return &c
}

// collationKey is what the alphabetic comparator actually compares.
func (m *RoomMetadata) collationKey() string {
	if m.CanonicalisedName != "" {
		return m.CanonicalisedName
	}
	return internal.CanonicaliseRoomName(m.Name)
}
