package state

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/matrix-org/roomlist/testutils"
)

var postgresConnectionString = "user=xxxxx dbname=roomlist_test sslmode=disable"

func TestMain(m *testing.M) {
	postgresConnectionString = testutils.PrepareDBConnectionString()
	exitCode := m.Run()
	os.Exit(exitCode)
}

func connectToDB(t *testing.T) (*sqlx.DB, func()) {
	t.Helper()
	db, err := sqlx.Open("postgres", postgresConnectionString)
	if err != nil {
		t.Fatalf("failed to open SQL db: %s", err)
	}
	return db, func() {
		db.Close()
	}
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("assertNoError: %s", err)
	}
}
