package state

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/jmoiron/sqlx"
)

// SnapshotTable stores the last published ordered room-ID list per tag, CBOR-encoded.
// Purely observational: the engine never reads this to sort, it exists so operators
// can inspect what consumers were last told and so cold starts can serve an order
// immediately while the real state loads.
type SnapshotTable struct {
	db *sqlx.DB
}

func NewSnapshotTable(db *sqlx.DB) *SnapshotTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS roomlist_snapshots (
		tag TEXT NOT NULL PRIMARY KEY,
		room_ids BYTEA NOT NULL
	);
	`)
	return &SnapshotTable{db}
}

func (t *SnapshotTable) UpsertSnapshot(txn *sqlx.Tx, tag string, roomIDs []string) error {
	data, err := cbor.Marshal(roomIDs)
	if err != nil {
		return err
	}
	_, err = txn.Exec(
		`INSERT INTO roomlist_snapshots(tag, room_ids) VALUES($1, $2)
		ON CONFLICT (tag) DO UPDATE SET room_ids = $2`,
		tag, data,
	)
	return err
}

func (t *SnapshotTable) DeleteSnapshot(txn *sqlx.Tx, tag string) error {
	_, err := txn.Exec(`DELETE FROM roomlist_snapshots WHERE tag = $1`, tag)
	return err
}

func (t *SnapshotTable) SelectSnapshot(tag string) ([]string, error) {
	var data []byte
	err := t.db.QueryRow(`SELECT room_ids FROM roomlist_snapshots WHERE tag = $1`, tag).Scan(&data)
	if err != nil {
		return nil, err
	}
	var roomIDs []string
	if err := cbor.Unmarshal(data, &roomIDs); err != nil {
		return nil, err
	}
	return roomIDs, nil
}
