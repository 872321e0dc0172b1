package state

import (
	"github.com/jmoiron/sqlx"
)

// RoomsTable stores the per-room attributes the ordering engine sorts on: the
// calculated name, the last activity timestamp and the mute flag. This is host-side
// state: the engine itself persists nothing and is rebuilt from here at process start.
type RoomsTable struct {
	db *sqlx.DB
}

type RoomRow struct {
	RoomID         string `db:"room_id"`
	Name           string `db:"name"`
	LastActivityTS int64  `db:"last_activity_ts"`
	IsMuted        bool   `db:"is_muted"`
}

func NewRoomsTable(db *sqlx.DB) *RoomsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS roomlist_rooms (
		room_id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		last_activity_ts BIGINT NOT NULL DEFAULT 0
	);
	`)
	return &RoomsTable{db}
}

func (t *RoomsTable) UpsertRoom(txn *sqlx.Tx, row RoomRow) error {
	_, err := txn.Exec(
		`INSERT INTO roomlist_rooms(room_id, name, last_activity_ts, is_muted) VALUES($1, $2, $3, $4)
		ON CONFLICT (room_id) DO UPDATE SET name = $2, last_activity_ts = $3, is_muted = $4`,
		row.RoomID, row.Name, row.LastActivityTS, row.IsMuted,
	)
	return err
}

func (t *RoomsTable) UpdateActivityTimestamp(txn *sqlx.Tx, roomID string, ts int64) error {
	_, err := txn.Exec(
		`INSERT INTO roomlist_rooms(room_id, last_activity_ts) VALUES($1, $2)
		ON CONFLICT (room_id) DO UPDATE SET last_activity_ts = GREATEST(roomlist_rooms.last_activity_ts, $2)`,
		roomID, ts,
	)
	return err
}

func (t *RoomsTable) DeleteRoom(txn *sqlx.Tx, roomID string) error {
	_, err := txn.Exec(`DELETE FROM roomlist_rooms WHERE room_id = $1`, roomID)
	return err
}

func (t *RoomsTable) SelectAllRooms() (map[string]RoomRow, error) {
	var rows []RoomRow
	if err := t.db.Select(&rows, `SELECT room_id, name, last_activity_ts, is_muted FROM roomlist_rooms`); err != nil {
		return nil, err
	}
	rooms := make(map[string]RoomRow, len(rows))
	for _, row := range rows {
		rooms[row.RoomID] = row
	}
	return rooms, nil
}
