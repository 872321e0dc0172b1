package pubsub

// The channel which carries list update payloads to downstream consumers.
const ChanLists = "lists"

// ListUpdatePayload says the ordered sequence for a tag changed. RoomIDs is the full
// new order: consumers swap it in wholesale rather than patching their own copy.
type ListUpdatePayload struct {
	Tag     string
	RoomIDs []string
}

func (*ListUpdatePayload) Type() string { return "list_update" }

// ListRetiredPayload says a tag was retired and its list no longer exists.
type ListRetiredPayload struct {
	Tag string
}

func (*ListRetiredPayload) Type() string { return "list_retired" }

// assert interface compliance
var (
	_ Payload = (*ListUpdatePayload)(nil)
	_ Payload = (*ListRetiredPayload)(nil)
)
