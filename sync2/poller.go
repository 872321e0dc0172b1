package sync2

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/matrix-org/roomlist/internal"
	"github.com/matrix-org/roomlist/list"
)

// RoomUpdateTarget receives the room updates the poller derives from sync responses,
// typically a list.Engine.
type RoomUpdateTarget interface {
	NotifyRoomUpdate(ctx context.Context, room *list.RoomMetadata, cause list.Cause)
}

// RoomPersister stores room attributes and tag memberships so the target can be
// rebuilt at process start.
type RoomPersister interface {
	PersistRoomUpdate(room *list.RoomMetadata) error
	DeleteRoom(roomID string) error
}

// Poller repeatedly polls the sync v2 endpoint for one account and translates the
// responses into room update notifications. It owns the authoritative in-memory copy
// of each room's metadata: updates are applied to a fresh copy which then replaces
// the stored one, so instances already handed to the target are never mutated.
type Poller struct {
	userID      string
	accessToken string
	client      Client
	target      RoomUpdateTarget
	store       RoomPersister

	deduper *EventDeduper
	rooms   map[string]*list.RoomMetadata

	// flag set to true when Poll returns due to an expired access token
	Terminated bool
	logger     zerolog.Logger
}

func NewPoller(userID, accessToken string, client Client, target RoomUpdateTarget, store RoomPersister) *Poller {
	return &Poller{
		userID:      userID,
		accessToken: accessToken,
		client:      client,
		target:      target,
		store:       store,
		deduper:     NewEventDeduper(),
		rooms:       make(map[string]*list.RoomMetadata),
		logger: zerolog.New(os.Stdout).With().Timestamp().Str("user", userID).Logger().Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}),
	}
}

// Poll will block until the context is cancelled, repeatedly calling v2 sync. Do this
// in a goroutine. Returns early if the access token gets invalidated. Invokes the
// callback on first success.
func (p *Poller) Poll(ctx context.Context, since string, callback func()) {
	p.logger.Info().Str("since", since).Msg("sync v2 poll loop started")
	defer p.deduper.Stop()
	failCount := 0
	firstTime := true
	for ctx.Err() == nil {
		if failCount > 0 {
			waitTime := time.Duration(math.Pow(2, float64(failCount))) * time.Second
			p.logger.Warn().Str("duration", waitTime.String()).Msg("waiting before next poll")
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return
			}
		}
		resp, statusCode, err := p.client.DoSyncV2(ctx, p.accessToken, since, firstTime)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if statusCode != 401 {
				p.logger.Warn().Int("code", statusCode).Err(err).Msg("sync v2 poll returned temporary error")
				failCount += 1
				continue
			}
			p.logger.Warn().Msg("access token has been invalidated, terminating loop")
			p.Terminated = true
			return
		}
		failCount = 0
		p.accumulate(ctx, resp)
		since = resp.NextBatch
		if firstTime {
			firstTime = false
			callback()
		}
	}
}

func (p *Poller) accumulate(ctx context.Context, res *SyncResponse) {
	p.processPushRules(ctx, res.AccountData.Events)
	for roomID, roomData := range res.Rooms.Join {
		p.processJoinedRoom(ctx, roomID, roomData)
	}
	for roomID := range res.Rooms.Leave {
		p.processLeftRoom(ctx, roomID)
	}
	if len(res.Rooms.Join)+len(res.Rooms.Leave) > 0 {
		p.logger.Info().Int("num_joined", len(res.Rooms.Join)).Int("num_left", len(res.Rooms.Leave)).Msg("accumulated data")
	}
}

// processJoinedRoom folds one room's section of the sync response into a copy of the
// room's metadata, then notifies the target once per distinct cause observed.
func (p *Poller) processJoinedRoom(ctx context.Context, roomID string, roomData SyncV2JoinResponse) {
	room := p.roomCopy(roomID)
	var causes []list.Cause

	if p.applyStateEvents(room, roomData.State.Events) {
		causes = append(causes, list.CauseMembersChanged)
	}
	nameChanged, newActivity := p.applyTimeline(room, roomData.Timeline.Events)
	if nameChanged {
		causes = append(causes, list.CauseMembersChanged)
	}
	if newActivity {
		causes = append(causes, list.CauseNewMessage)
	}
	if p.applyReceipts(room, roomData.Ephemeral.Events) {
		causes = append(causes, list.CauseReadReceipt)
	}
	if p.applyRoomAccountData(room, roomData.AccountData.Events) {
		causes = append(causes, list.CauseTagChanged)
	}
	if roomData.Timeline.Limited {
		// gappy sync: incremental repositioning cannot be trusted for this room
		causes = append(causes, list.CauseTimeline)
	}
	if len(causes) == 0 {
		return
	}
	room.CalculateRoomName()
	p.rooms[roomID] = room
	if p.store != nil {
		if err := p.store.PersistRoomUpdate(room); err != nil {
			p.logger.Err(err).Str("room_id", roomID).Msg("failed to persist room update")
		}
	}
	for _, cause := range causes {
		p.target.NotifyRoomUpdate(ctx, room, cause)
	}
}

func (p *Poller) processLeftRoom(ctx context.Context, roomID string) {
	room, ok := p.rooms[roomID]
	if !ok {
		// we may never have seen this room, but downstream copies might still hold it
		room = &list.RoomMetadata{RoomID: roomID}
	}
	delete(p.rooms, roomID)
	if p.store != nil {
		if err := p.store.DeleteRoom(roomID); err != nil {
			p.logger.Err(err).Str("room_id", roomID).Msg("failed to delete left room")
		}
	}
	p.target.NotifyRoomUpdate(ctx, room, list.CauseRoomRemoved)
}

func (p *Poller) applyStateEvents(room *list.RoomMetadata, events []json.RawMessage) bool {
	changed := false
	for _, rawEv := range events {
		if p.applyStateEvent(room, gjson.ParseBytes(rawEv)) {
			changed = true
		}
	}
	return changed
}

func (p *Poller) applyStateEvent(room *list.RoomMetadata, ev gjson.Result) bool {
	switch ev.Get("type").Str {
	case "m.room.name":
		name := ev.Get("content.name").Str
		if room.NameEvent == name {
			return false
		}
		room.NameEvent = name
		return true
	case "m.room.canonical_alias":
		alias := ev.Get("content.alias").Str
		if room.CanonicalAlias == alias {
			return false
		}
		room.CanonicalAlias = alias
		return true
	case "m.room.member":
		return p.applyMemberEvent(room, ev)
	}
	return false
}

func (p *Poller) applyMemberEvent(room *list.RoomMetadata, ev gjson.Result) bool {
	target := ev.Get("state_key").Str
	if target == "" || target == p.userID {
		// our own membership never feeds the calculated name
		return false
	}
	heroIndex := -1
	for i := range room.Heroes {
		if room.Heroes[i].ID == target {
			heroIndex = i
			break
		}
	}
	switch ev.Get("content.membership").Str {
	case "join":
		if heroIndex < 0 {
			room.JoinCount++
			room.Heroes = append(room.Heroes, internal.Hero{
				ID:   target,
				Name: ev.Get("content.displayname").Str,
			})
		} else {
			room.Heroes[heroIndex].Name = ev.Get("content.displayname").Str
		}
		return true
	case "invite":
		if heroIndex < 0 {
			room.InviteCount++
			room.Heroes = append(room.Heroes, internal.Hero{
				ID:   target,
				Name: ev.Get("content.displayname").Str,
			})
			return true
		}
	default: // leave, ban
		if heroIndex >= 0 {
			room.Heroes = append(room.Heroes[:heroIndex], room.Heroes[heroIndex+1:]...)
			// we don't track which membership the hero held; the counts only feed
			// the calculated name so close enough beats exact here
			if room.JoinCount > 0 {
				room.JoinCount--
			} else if room.InviteCount > 0 {
				room.InviteCount--
			}
			return true
		}
	}
	return false
}

// applyTimeline bumps the room's activity timestamp from new timeline events and folds
// in any state events delivered inline. Events already seen within the dedupe window
// are skipped so replayed responses cannot bump activity twice.
func (p *Poller) applyTimeline(room *list.RoomMetadata, events []json.RawMessage) (nameChanged, newActivity bool) {
	for _, rawEv := range events {
		ev := gjson.ParseBytes(rawEv)
		if p.deduper.Seen(ev.Get("event_id").Str) {
			continue
		}
		if ev.Get("state_key").Exists() {
			if p.applyStateEvent(room, ev) {
				nameChanged = true
			}
			continue
		}
		if ts := ev.Get("origin_server_ts").Uint(); ts > room.LastActivityTimestamp {
			room.LastActivityTimestamp = ts
			newActivity = true
		}
	}
	return
}

// applyReceipts treats our own read receipts as activity: reading a room is an
// interaction with it, which matters to recency ordering.
func (p *Poller) applyReceipts(room *list.RoomMetadata, events []json.RawMessage) bool {
	changed := false
	for _, rawEv := range events {
		ev := gjson.ParseBytes(rawEv)
		if ev.Get("type").Str != "m.receipt" {
			continue
		}
		ev.Get("content").ForEach(func(_, receipts gjson.Result) bool {
			receipts.Get("m\\.read").ForEach(func(user, receipt gjson.Result) bool {
				if user.Str != p.userID {
					return true
				}
				if ts := receipt.Get("ts").Uint(); ts > room.LastActivityTimestamp {
					room.LastActivityTimestamp = ts
					changed = true
				}
				return false
			})
			return true
		})
	}
	return changed
}

// applyRoomAccountData replaces the room's tag map from m.tag events. The event
// carries the complete set, so an absent tag means the room left it.
func (p *Poller) applyRoomAccountData(room *list.RoomMetadata, events []json.RawMessage) bool {
	changed := false
	for _, rawEv := range events {
		ev := gjson.ParseBytes(rawEv)
		if ev.Get("type").Str != "m.tag" {
			continue
		}
		tags := make(map[string]*float64)
		ev.Get("content.tags").ForEach(func(tag, val gjson.Result) bool {
			if order := val.Get("order"); order.Exists() {
				o := order.Float()
				tags[tag.Str] = &o
			} else {
				tags[tag.Str] = nil
			}
			return true
		})
		room.Tags = tags
		changed = true
	}
	return changed
}

// processPushRules derives per-room mute flags from m.push_rules in the global account
// data. A room is muted when an enabled room rule for it carries dont_notify. Rooms
// whose flag flips get a membership recheck so the target swaps in the new instance.
func (p *Poller) processPushRules(ctx context.Context, events []json.RawMessage) {
	for _, rawEv := range events {
		ev := gjson.ParseBytes(rawEv)
		if ev.Get("type").Str != "m.push_rules" {
			continue
		}
		mutedRooms := make(map[string]bool)
		ev.Get("content.global.room").ForEach(func(_, rule gjson.Result) bool {
			if !rule.Get("enabled").Bool() {
				return true
			}
			muted := false
			rule.Get("actions").ForEach(func(_, action gjson.Result) bool {
				if action.Str == "dont_notify" {
					muted = true
					return false
				}
				return true
			})
			if muted {
				mutedRooms[rule.Get("rule_id").Str] = true
			}
			return true
		})
		for roomID, room := range p.rooms {
			muted := mutedRooms[roomID]
			if room.Muted == muted {
				continue
			}
			updated := room.Copy()
			updated.Muted = muted
			p.rooms[roomID] = updated
			if p.store != nil {
				if err := p.store.PersistRoomUpdate(updated); err != nil {
					p.logger.Err(err).Str("room_id", roomID).Msg("failed to persist mute change")
				}
			}
			p.target.NotifyRoomUpdate(ctx, updated, list.CausePossibleTagChange)
		}
	}
}

// roomCopy returns a mutable copy of the room's current metadata, or a fresh struct
// for rooms we haven't seen before.
func (p *Poller) roomCopy(roomID string) *list.RoomMetadata {
	if room, ok := p.rooms[roomID]; ok {
		return room.Copy()
	}
	return &list.RoomMetadata{
		RoomID: roomID,
		Tags:   make(map[string]*float64),
	}
}
