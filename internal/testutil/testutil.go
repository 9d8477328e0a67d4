package testutil

import (
	"database/sql"
	"testing"

	"botrelay/internal/migration"
	"botrelay/internal/repository"

	_ "modernc.org/sqlite"
)

// SetupTestDB creates an in-memory SQLite journal and returns a Queries instance.
func SetupTestDB(t *testing.T) *repository.Queries {
	t.Helper()
	_, q := SetupTestDBWithConn(t)
	return q
}

// SetupTestDBWithConn creates an in-memory SQLite journal and returns both the raw *sql.DB and Queries.
func SetupTestDBWithConn(t *testing.T) (*sql.DB, *repository.Queries) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	// every pooled connection would otherwise get its own empty :memory: database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := migration.Run(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db, repository.New(db)
}
