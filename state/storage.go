package state

import (
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/matrix-org/roomlist/internal"
	"github.com/matrix-org/roomlist/list"
	"github.com/matrix-org/roomlist/sqlutil"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Storage is the host-side persistence around the ordering engine: room attributes,
// tag memberships with manual orders, and published snapshots. The engine itself is a
// pure in-memory structure rebuilt from LoadTagMemberships at process start.
type Storage struct {
	DB            *sqlx.DB
	RoomsTable    *RoomsTable
	TagsTable     *TagsTable
	SnapshotTable *SnapshotTable
}

func NewStorage(postgresURI string) *Storage {
	db, err := sqlx.Open("postgres", postgresURI)
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Str("uri", postgresURI).Msg("failed to open SQL DB")
	}
	db.SetMaxOpenConns(10)
	return NewStorageWithDB(db)
}

func NewStorageWithDB(db *sqlx.DB) *Storage {
	s := &Storage{
		DB:            db,
		RoomsTable:    NewRoomsTable(db),
		TagsTable:     NewTagsTable(db),
		SnapshotTable: NewSnapshotTable(db),
	}
	if err := RunMigrations(db); err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("failed to run database migrations")
	}
	return s
}

func (s *Storage) Teardown() {
	if err := s.DB.Close(); err != nil {
		logger.Err(err).Msg("failed to close DB")
	}
}

// LoadTagMemberships builds the engine's initial state: every tag mapped to the rooms
// the stored memberships assert belong to it. Rooms appearing in multiple tags share
// one metadata instance; the engine treats them as read-only.
func (s *Storage) LoadTagMemberships() (map[string][]*list.RoomMetadata, error) {
	roomRows, err := s.RoomsTable.SelectAllRooms()
	if err != nil {
		return nil, err
	}
	tagRows, err := s.TagsTable.SelectAllTags()
	if err != nil {
		return nil, err
	}

	// assemble each room's full tag map first so every instance carries all its tags
	tagsByRoom := make(map[string]map[string]*float64)
	for tag, rows := range tagRows {
		for _, row := range rows {
			tags := tagsByRoom[row.RoomID]
			if tags == nil {
				tags = make(map[string]*float64)
				tagsByRoom[row.RoomID] = tags
			}
			if row.ManualOrder.Valid {
				order := row.ManualOrder.Float64
				tags[tag] = &order
			} else {
				tags[tag] = nil
			}
		}
	}
	roomsByID := make(map[string]*list.RoomMetadata, len(tagsByRoom))
	for roomID, tags := range tagsByRoom {
		room := &list.RoomMetadata{
			RoomID: roomID,
			Tags:   tags,
		}
		if row, ok := roomRows[roomID]; ok {
			room.Name = row.Name
			room.CanonicalisedName = internal.CanonicaliseRoomName(row.Name)
			room.LastActivityTimestamp = uint64(row.LastActivityTS)
			room.Muted = row.IsMuted
		}
		roomsByID[roomID] = room
	}

	memberships := make(map[string][]*list.RoomMetadata, len(tagRows))
	for tag, rows := range tagRows {
		rooms := make([]*list.RoomMetadata, 0, len(rows))
		for _, row := range rows {
			rooms = append(rooms, roomsByID[row.RoomID])
		}
		memberships[tag] = rooms
	}
	return memberships, nil
}

// PersistRoomUpdate writes the room's current attributes and tag memberships in one
// transaction, so a crash cannot leave a tag pointing at a room we know nothing about.
func (s *Storage) PersistRoomUpdate(room *list.RoomMetadata) error {
	return sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		err := s.RoomsTable.UpsertRoom(txn, RoomRow{
			RoomID:         room.RoomID,
			Name:           room.Name,
			LastActivityTS: int64(room.LastActivityTimestamp),
			IsMuted:        room.Muted,
		})
		if err != nil {
			return err
		}
		return s.TagsTable.SetRoomTags(txn, room.RoomID, room.Tags)
	})
}

// DeleteRoom removes the room and all its tag memberships.
func (s *Storage) DeleteRoom(roomID string) error {
	return sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		if err := s.TagsTable.DeleteRoom(txn, roomID); err != nil {
			return err
		}
		return s.RoomsTable.DeleteRoom(txn, roomID)
	})
}

// PersistSnapshot records the ordered room IDs last published for a tag.
func (s *Storage) PersistSnapshot(tag string, roomIDs []string) error {
	return sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		return s.SnapshotTable.UpsertSnapshot(txn, tag, roomIDs)
	})
}

// DeleteSnapshot removes the stored order for a retired tag.
func (s *Storage) DeleteSnapshot(tag string) error {
	return sqlutil.WithTransaction(s.DB, func(txn *sqlx.Tx) error {
		return s.SnapshotTable.DeleteSnapshot(txn, tag)
	})
}
