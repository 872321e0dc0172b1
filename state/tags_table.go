package state

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// TagsTable stores which rooms belong to which tags, plus the optional manual order
// number the user set by dragging rooms around. The order is opaque application state:
// we store and return it, the engine only compares it.
type TagsTable struct {
	db *sqlx.DB
}

type TagRow struct {
	Tag         string          `db:"tag"`
	RoomID      string          `db:"room_id"`
	ManualOrder sql.NullFloat64 `db:"manual_order"`
}

func NewTagsTable(db *sqlx.DB) *TagsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS roomlist_tags (
		tag TEXT NOT NULL,
		room_id TEXT NOT NULL,
		manual_order REAL,
		UNIQUE(tag, room_id)
	);
	`)
	return &TagsTable{db}
}

// SetRoomTags replaces the full set of tags for one room. A nil order means the user
// has not dragged this room within that tag.
func (t *TagsTable) SetRoomTags(txn *sqlx.Tx, roomID string, tags map[string]*float64) error {
	if _, err := txn.Exec(`DELETE FROM roomlist_tags WHERE room_id = $1`, roomID); err != nil {
		return err
	}
	for tag, order := range tags {
		var manualOrder sql.NullFloat64
		if order != nil {
			manualOrder = sql.NullFloat64{Float64: *order, Valid: true}
		}
		_, err := txn.Exec(
			`INSERT INTO roomlist_tags(tag, room_id, manual_order) VALUES($1, $2, $3)`,
			tag, roomID, manualOrder,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *TagsTable) DeleteRoom(txn *sqlx.Tx, roomID string) error {
	_, err := txn.Exec(`DELETE FROM roomlist_tags WHERE room_id = $1`, roomID)
	return err
}

// SelectAllTags returns every membership row, grouped by tag.
func (t *TagsTable) SelectAllTags() (map[string][]TagRow, error) {
	var rows []TagRow
	if err := t.db.Select(&rows, `SELECT tag, room_id, manual_order FROM roomlist_tags`); err != nil {
		return nil, err
	}
	byTag := make(map[string][]TagRow)
	for _, row := range rows {
		byTag[row.Tag] = append(byTag[row.Tag], row)
	}
	return byTag, nil
}

// SelectTagsForRoom returns tag -> manual order for one room.
func (t *TagsTable) SelectTagsForRoom(roomID string) (map[string]*float64, error) {
	var rows []TagRow
	if err := t.db.Select(&rows, `SELECT tag, room_id, manual_order FROM roomlist_tags WHERE room_id = $1`, roomID); err != nil {
		return nil, err
	}
	tags := make(map[string]*float64, len(rows))
	for _, row := range rows {
		if row.ManualOrder.Valid {
			order := row.ManualOrder.Float64
			tags[row.Tag] = &order
		} else {
			tags[row.Tag] = nil
		}
	}
	return tags, nil
}
