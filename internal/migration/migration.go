package migration

import (
	"database/sql"
)

// Run executes all journal migrations
func Run(db *sql.DB) error {
	if err := createTables(db); err != nil {
		return err
	}

	// Incremental migrations (idempotent)
	migrateSessionEventDetail(db)

	return nil
}

// Schema is the full journal DDL, shared with testutil.
const Schema = `
CREATE TABLE IF NOT EXISTS proxy_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id TEXT,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    status_code INTEGER,
    duration_ms INTEGER,
    request_bytes INTEGER NOT NULL DEFAULT 0,
    response_bytes INTEGER NOT NULL DEFAULT 0,
    content_encoding TEXT,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    app_id TEXT NOT NULL,
    target_url TEXT NOT NULL,
    event TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_proxy_history_app ON proxy_history(app_id);
CREATE INDEX IF NOT EXISTS idx_proxy_history_created ON proxy_history(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
CREATE INDEX IF NOT EXISTS idx_session_events_app ON session_events(app_id);
CREATE INDEX IF NOT EXISTS idx_session_events_created ON session_events(created_at DESC);
`

func createTables(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

func migrateSessionEventDetail(db *sql.DB) {
	db.Exec("ALTER TABLE session_events ADD COLUMN detail TEXT") // Ignore "duplicate column" errors
}
