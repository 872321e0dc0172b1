package state

import (
	"embed"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/matrix-org/roomlist/state/migrations"
)

//go:embed migrations/*.go
var embedMigrations embed.FS

// RunMigrations brings the schema up to date. Tables are created by their table
// structs; migrations carry the later alterations.
func RunMigrations(db *sqlx.DB) error {
	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db.DB, "migrations")
}
