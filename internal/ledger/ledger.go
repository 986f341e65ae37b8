// Package ledger keeps an append-only history of the notifications the
// manager emits. It exists for auditing; the manager never reads it back and
// no snapshot state is persisted here.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of notification in the ledger
type EventType string

const (
	EventStateSaved    EventType = "light_state_saved"
	EventStateRestored EventType = "light_state_restored"
)

// Entry represents a single notification in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	EntityID  string
	Payload   map[string]any
}

// Ledger provides append-only notification logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new notification to the ledger
func (l *Ledger) Append(eventType EventType, entityID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	_, err = l.db.Exec(`
		INSERT INTO notification_ledger (event_type, timestamp, entity_id, payload)
		VALUES (?, ?, ?, ?)
	`, string(eventType), now, entityID, string(payloadJSON))

	return err
}

// GetByType returns entries filtered by event type, most recent first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, entity_id, payload
		FROM notification_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByEntity returns entries for one entity, most recent first
func (l *Ledger) GetByEntity(entityID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, entity_id, payload
		FROM notification_ledger
		WHERE entity_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM notification_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old ledger entries: %w", err)
	}

	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry

	for rows.Next() {
		var entry Entry
		var timestamp int64
		var payloadStr sql.NullString

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &entry.EntityID, &payloadStr); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()

		if payloadStr.Valid && payloadStr.String != "" {
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal ledger payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
