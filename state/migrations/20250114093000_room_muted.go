package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upRoomMuted, downRoomMuted)
}

// Mute state used to live only in the poller's memory, so mute-to-bottom partitioning
// reset on restart. Persist it with the room.
func upRoomMuted(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE IF EXISTS roomlist_rooms ADD COLUMN IF NOT EXISTS is_muted BOOLEAN NOT NULL DEFAULT FALSE;`)
	return err
}

func downRoomMuted(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE IF EXISTS roomlist_rooms DROP COLUMN IF EXISTS is_muted;`)
	return err
}
