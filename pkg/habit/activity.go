package habit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stillpoint/stillpoint/pkg/store"
)

// DailyActivity aggregates check-ins and journal entries per calendar day.
type DailyActivity struct {
	Day            string
	Checkins       int
	JournalEntries int
}

// ActivityProjection maintains the daily activity aggregate. Counter
// updates are deduplicated by event ID in a side table, so redelivered
// events never double-count.
type ActivityProjection struct {
	db *sql.DB
}

// NewActivityProjection creates the projection and its read model schema.
func NewActivityProjection(db *sql.DB) (*ActivityProjection, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_activity (
			day TEXT PRIMARY KEY,
			checkins INTEGER NOT NULL DEFAULT 0,
			journal_entries INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS daily_activity_seen (
			event_id TEXT PRIMARY KEY
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create daily_activity tables: %w", err)
	}

	return &ActivityProjection{db: db}, nil
}

// Name returns the projection's checkpoint name.
func (p *ActivityProjection) Name() string {
	return "daily-activity"
}

// Handle applies one event to the activity read model.
func (p *ActivityProjection) Handle(ctx context.Context, event *store.StoredEvent) error {
	switch event.EventType {
	case EventCheckedIn:
		var payload CheckedInPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.EventType, err)
		}
		return p.bump(ctx, event.ID, payload.Day, 1, 0)

	case EventJournalWritten:
		var payload JournalWrittenPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.EventType, err)
		}
		return p.bump(ctx, event.ID, payload.Day, 0, 1)

	default:
		return nil
	}
}

// bump increments the day's counters unless this event was already
// counted.
func (p *ActivityProjection) bump(ctx context.Context, eventID, day string, checkins, journals int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activity update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO daily_activity_seen (event_id) VALUES (?)", eventID)
	if err != nil {
		return fmt.Errorf("record seen event: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record seen event: %w", err)
	}
	if inserted == 0 {
		// Redelivered event, already counted.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_activity (day, checkins, journal_entries)
		VALUES (?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			checkins = checkins + excluded.checkins,
			journal_entries = journal_entries + excluded.journal_entries
	`, day, checkins, journals)
	if err != nil {
		return fmt.Errorf("update daily activity: %w", err)
	}

	return tx.Commit()
}

// Activity returns the aggregate for one day, zero-valued if absent.
func (p *ActivityProjection) Activity(ctx context.Context, day string) (*DailyActivity, error) {
	a := &DailyActivity{Day: day}

	err := p.db.QueryRowContext(ctx, `
		SELECT checkins, journal_entries
		FROM daily_activity
		WHERE day = ?
	`, day).Scan(&a.Checkins, &a.JournalEntries)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load activity for %s: %w", day, err)
	}

	return a, nil
}
