// Package db provides the SQLite connection and schema for lightstated.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Notification ledger - append-only history of save/restore notifications
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notification_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			entity_id TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON notification_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_entity ON notification_ledger(entity_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create notification_ledger table: %w", err)
	}

	return nil
}
