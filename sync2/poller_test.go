package sync2

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/matrix-org/roomlist/list"
	"github.com/matrix-org/roomlist/testutils"
)

const testUserID = "@me:localhost"

// scriptedClient replays a fixed sequence of responses then cancels the poll context,
// so Poll returns without backoff sleeps.
type scriptedClient struct {
	cancel  context.CancelFunc
	scripts []*SyncResponse
	sinces  []string
	i       int
}

func (c *scriptedClient) DoSyncV2(ctx context.Context, accessToken, since string, isFirst bool) (*SyncResponse, int, error) {
	c.sinces = append(c.sinces, since)
	if c.i >= len(c.scripts) {
		c.cancel()
		return nil, 0, context.Canceled
	}
	res := c.scripts[c.i]
	c.i++
	return res, 200, nil
}

type recordedUpdate struct {
	room  *list.RoomMetadata
	cause list.Cause
}

type recordingTarget struct {
	updates []recordedUpdate
}

func (r *recordingTarget) NotifyRoomUpdate(ctx context.Context, room *list.RoomMetadata, cause list.Cause) {
	r.updates = append(r.updates, recordedUpdate{room: room, cause: cause})
}

type recordingPersister struct {
	persisted []*list.RoomMetadata
	deleted   []string
}

func (r *recordingPersister) PersistRoomUpdate(room *list.RoomMetadata) error {
	r.persisted = append(r.persisted, room)
	return nil
}

func (r *recordingPersister) DeleteRoom(roomID string) error {
	r.deleted = append(r.deleted, roomID)
	return nil
}

func runPoller(t *testing.T, responses ...*SyncResponse) (*scriptedClient, *recordingTarget, *recordingPersister) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &scriptedClient{cancel: cancel, scripts: responses}
	target := &recordingTarget{}
	store := &recordingPersister{}
	poller := NewPoller(testUserID, "access_token", client, target, store)
	poller.Poll(ctx, "", func() {})
	return client, target, store
}

func joinResponse(nextBatch, roomID string, data SyncV2JoinResponse) *SyncResponse {
	return &SyncResponse{
		NextBatch: nextBatch,
		Rooms: SyncRoomsResponse{
			Join: map[string]SyncV2JoinResponse{
				roomID: data,
			},
		},
	}
}

func assertCauses(t *testing.T, updates []recordedUpdate, want ...list.Cause) {
	t.Helper()
	if len(updates) != len(want) {
		t.Fatalf("got %d updates, want %d: %+v", len(updates), len(want), updates)
	}
	for i := range want {
		if updates[i].cause != want[i] {
			t.Errorf("update %d: got cause %s want %s", i, updates[i].cause, want[i])
		}
	}
}

func TestPollerNewMessageBumpsActivity(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, store := runPoller(t, joinResponse("tok1", roomID, SyncV2JoinResponse{
		Timeline: TimelineResponse{
			Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "hello", 5000),
			},
		},
	}))
	assertCauses(t, target.updates, list.CauseNewMessage)
	room := target.updates[0].room
	if room.RoomID != roomID {
		t.Errorf("got room ID %s want %s", room.RoomID, roomID)
	}
	if room.LastActivityTimestamp != 5000 {
		t.Errorf("got activity ts %d want 5000", room.LastActivityTimestamp)
	}
	if len(store.persisted) != 1 {
		t.Errorf("got %d persisted rooms, want 1", len(store.persisted))
	}
}

func TestPollerDedupesReplayedEvents(t *testing.T) {
	roomID := "!foo:localhost"
	msg := testutils.NewMessageEvent(t, "@alice:localhost", "hello", 5000)
	_, target, _ := runPoller(t,
		joinResponse("tok1", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{msg}},
		}),
		// a replayed response must not bump activity a second time
		joinResponse("tok2", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{msg}},
		}),
	)
	assertCauses(t, target.updates, list.CauseNewMessage)
}

func TestPollerSinceTokenAdvances(t *testing.T) {
	roomID := "!foo:localhost"
	client, _, _ := runPoller(t,
		joinResponse("tok1", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "a", 1000),
			}},
		}),
		joinResponse("tok2", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "b", 2000),
			}},
		}),
	)
	wantSinces := []string{"", "tok1", "tok2"}
	if len(client.sinces) != len(wantSinces) {
		t.Fatalf("got %d sync calls, want %d", len(client.sinces), len(wantSinces))
	}
	for i := range wantSinces {
		if client.sinces[i] != wantSinces[i] {
			t.Errorf("call %d: got since %q want %q", i, client.sinces[i], wantSinces[i])
		}
	}
}

func TestPollerTagChange(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, _ := runPoller(t, joinResponse("tok1", roomID, SyncV2JoinResponse{
		AccountData: EventsResponse{Events: []json.RawMessage{
			testutils.NewEvent(t, "m.tag", testUserID, map[string]interface{}{
				"tags": map[string]interface{}{
					"m.favourite": map[string]interface{}{"order": 0.2},
					"u.work":      map[string]interface{}{},
				},
			}),
		}},
	}))
	assertCauses(t, target.updates, list.CauseTagChanged)
	room := target.updates[0].room
	if !room.HasTag("m.favourite") || !room.HasTag("u.work") {
		t.Fatalf("room tags missing: %+v", room.Tags)
	}
	if got := room.ManualOrder("m.favourite"); got != 0.2 {
		t.Errorf("got manual order %v want 0.2", got)
	}
	if room.Tags["u.work"] != nil {
		t.Errorf("u.work should have no manual order, got %v", *room.Tags["u.work"])
	}
}

func TestPollerTagRemovalDropsTag(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, _ := runPoller(t,
		joinResponse("tok1", roomID, SyncV2JoinResponse{
			AccountData: EventsResponse{Events: []json.RawMessage{
				testutils.NewEvent(t, "m.tag", testUserID, map[string]interface{}{
					"tags": map[string]interface{}{"m.favourite": map[string]interface{}{}},
				}),
			}},
		}),
		// the m.tag event carries the complete set, so an empty set means untagged
		joinResponse("tok2", roomID, SyncV2JoinResponse{
			AccountData: EventsResponse{Events: []json.RawMessage{
				testutils.NewEvent(t, "m.tag", testUserID, map[string]interface{}{
					"tags": map[string]interface{}{},
				}),
			}},
		}),
	)
	assertCauses(t, target.updates, list.CauseTagChanged, list.CauseTagChanged)
	if !target.updates[0].room.HasTag("m.favourite") {
		t.Errorf("first update should have the tag")
	}
	if target.updates[1].room.HasTag("m.favourite") {
		t.Errorf("second update should have dropped the tag")
	}
}

func TestPollerReadReceipt(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, _ := runPoller(t, joinResponse("tok1", roomID, SyncV2JoinResponse{
		Ephemeral: EventsResponse{Events: []json.RawMessage{
			testutils.NewEvent(t, "m.receipt", "", map[string]interface{}{
				"$someevent": map[string]interface{}{
					"m.read": map[string]interface{}{
						testUserID:         map[string]interface{}{"ts": 9000},
						"@other:localhost": map[string]interface{}{"ts": 9999},
					},
				},
			}),
		}},
	}))
	assertCauses(t, target.updates, list.CauseReadReceipt)
	if got := target.updates[0].room.LastActivityTimestamp; got != 9000 {
		t.Errorf("got activity ts %d want 9000 (our receipt, not @other's)", got)
	}
}

func TestPollerLeaveRemovesRoom(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, store := runPoller(t,
		joinResponse("tok1", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "hi", 1000),
			}},
		}),
		&SyncResponse{
			NextBatch: "tok2",
			Rooms: SyncRoomsResponse{
				Leave: map[string]SyncV2LeaveResponse{roomID: {}},
			},
		},
	)
	assertCauses(t, target.updates, list.CauseNewMessage, list.CauseRoomRemoved)
	if len(store.deleted) != 1 || store.deleted[0] != roomID {
		t.Errorf("got deleted rooms %v, want [%s]", store.deleted, roomID)
	}
}

func TestPollerMemberChangeRecalculatesName(t *testing.T) {
	roomID := "!dm:localhost"
	_, target, _ := runPoller(t, joinResponse("tok1", roomID, SyncV2JoinResponse{
		State: EventsResponse{Events: []json.RawMessage{
			testutils.NewStateEvent(t, "m.room.member", "@bob:localhost", "@bob:localhost", map[string]interface{}{
				"membership":  "join",
				"displayname": "Bob",
			}),
		}},
	}))
	assertCauses(t, target.updates, list.CauseMembersChanged)
	if got := target.updates[0].room.Name; got != "Bob" {
		t.Errorf("got calculated name %q want %q", got, "Bob")
	}
}

func TestPollerInlineStateRename(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, _ := runPoller(t, joinResponse("tok1", roomID, SyncV2JoinResponse{
		// renames arrive in the timeline on incremental syncs
		Timeline: TimelineResponse{Events: []json.RawMessage{
			testutils.NewStateEvent(t, "m.room.name", "", "@alice:localhost", map[string]interface{}{
				"name": "Renamed",
			}),
		}},
	}))
	assertCauses(t, target.updates, list.CauseMembersChanged)
	room := target.updates[0].room
	if room.Name != "Renamed" {
		t.Errorf("got name %q want %q", room.Name, "Renamed")
	}
	if room.CanonicalisedName != "renamed" {
		t.Errorf("got canonicalised name %q want %q", room.CanonicalisedName, "renamed")
	}
}

func TestPollerLimitedTimeline(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, _ := runPoller(t, joinResponse("tok1", roomID, SyncV2JoinResponse{
		Timeline: TimelineResponse{
			Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "gap", 7000),
			},
			Limited: true,
		},
	}))
	assertCauses(t, target.updates, list.CauseNewMessage, list.CauseTimeline)
}

func TestPollerPushRulesMute(t *testing.T) {
	roomID := "!noisy:localhost"
	mute := func(nextBatch string, ruleRooms ...string) *SyncResponse {
		rules := make([]interface{}, 0, len(ruleRooms))
		for _, r := range ruleRooms {
			rules = append(rules, map[string]interface{}{
				"rule_id": r,
				"enabled": true,
				"actions": []interface{}{"dont_notify"},
			})
		}
		return &SyncResponse{
			NextBatch: nextBatch,
			AccountData: EventsResponse{Events: []json.RawMessage{
				testutils.NewEvent(t, "m.push_rules", testUserID, map[string]interface{}{
					"global": map[string]interface{}{"room": rules},
				}),
			}},
		}
	}
	_, target, _ := runPoller(t,
		joinResponse("tok1", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "spam", 1000),
			}},
		}),
		mute("tok2", roomID),
		mute("tok3"), // rule removed, room unmuted again
	)
	assertCauses(t, target.updates,
		list.CauseNewMessage, list.CausePossibleTagChange, list.CausePossibleTagChange,
	)
	if !target.updates[1].room.Muted {
		t.Errorf("second update should be muted")
	}
	if target.updates[2].room.Muted {
		t.Errorf("third update should be unmuted")
	}
}

func TestPollerNotificationsAreImmutable(t *testing.T) {
	roomID := "!foo:localhost"
	_, target, _ := runPoller(t,
		joinResponse("tok1", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "a", 1000),
			}},
		}),
		joinResponse("tok2", roomID, SyncV2JoinResponse{
			Timeline: TimelineResponse{Events: []json.RawMessage{
				testutils.NewMessageEvent(t, "@alice:localhost", "b", 2000),
			}},
		}),
	)
	assertCauses(t, target.updates, list.CauseNewMessage, list.CauseNewMessage)
	if got := target.updates[0].room.LastActivityTimestamp; got != 1000 {
		t.Errorf("first notification mutated after delivery: ts %d want 1000", got)
	}
	if got := target.updates[1].room.LastActivityTimestamp; got != 2000 {
		t.Errorf("second notification: ts %d want 2000", got)
	}
}

func TestPollerFirstSyncCallback(t *testing.T) {
	roomID := "!foo:localhost"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &scriptedClient{cancel: cancel, scripts: []*SyncResponse{
		joinResponse("tok1", roomID, SyncV2JoinResponse{}),
		joinResponse("tok2", roomID, SyncV2JoinResponse{}),
	}}
	poller := NewPoller(testUserID, "access_token", client, &recordingTarget{}, nil)
	calls := 0
	poller.Poll(ctx, "", func() { calls++ })
	if calls != 1 {
		t.Fatalf("first-sync callback invoked %d times, want 1", calls)
	}
}

type terminatingClient struct{}

func (c *terminatingClient) DoSyncV2(ctx context.Context, accessToken, since string, isFirst bool) (*SyncResponse, int, error) {
	return nil, 401, HTTP401
}

func TestPollerTerminatesOn401(t *testing.T) {
	poller := NewPoller(testUserID, "access_token", &terminatingClient{}, &recordingTarget{}, nil)
	poller.Poll(context.Background(), "", func() {
		t.Errorf("callback invoked for a terminated poller")
	})
	if !poller.Terminated {
		t.Fatalf("poller should be flagged Terminated after a 401")
	}
}
