package habit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stillpoint/stillpoint/pkg/store"
)

const dayLayout = "2006-01-02"

// Streak is one row of the habit-streaks read model.
type Streak struct {
	HabitID        string
	Name           string
	CurrentStreak  int
	LongestStreak  int
	LastCheckinDay string
	TotalCheckins  int
}

// StreakProjection maintains per-habit streak counters from check-in
// events. Counted check-ins are recorded per (habit, day) in a side
// table, so duplicate check-ins on a day and redelivered events, even
// a redelivered batch spanning several days, are no-ops. That keeps
// the handler idempotent under at-least-once delivery.
type StreakProjection struct {
	db *sql.DB
}

// NewStreakProjection creates the projection and its read model schema.
func NewStreakProjection(db *sql.DB) (*StreakProjection, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS habit_streaks (
			habit_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			last_checkin_day TEXT NOT NULL DEFAULT '',
			total_checkins INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS habit_checkins (
			habit_id TEXT NOT NULL,
			day TEXT NOT NULL,
			PRIMARY KEY (habit_id, day)
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create habit_streaks tables: %w", err)
	}

	return &StreakProjection{db: db}, nil
}

// Name returns the projection's checkpoint name.
func (p *StreakProjection) Name() string {
	return "habit-streaks"
}

// Handle applies one event to the streaks read model.
func (p *StreakProjection) Handle(ctx context.Context, event *store.StoredEvent) error {
	switch event.EventType {
	case EventCreated:
		return p.onCreated(ctx, event)
	case EventCheckedIn:
		return p.onCheckedIn(ctx, event)
	case EventArchived:
		return p.onArchived(ctx, event)
	default:
		return nil
	}
}

func (p *StreakProjection) onCreated(ctx context.Context, event *store.StoredEvent) error {
	var payload CreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.EventType, err)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO habit_streaks (habit_id, name)
		VALUES (?, ?)
		ON CONFLICT(habit_id) DO UPDATE SET name = excluded.name
	`, payload.HabitID, payload.Name)
	if err != nil {
		return fmt.Errorf("upsert streak row: %w", err)
	}
	return nil
}

func (p *StreakProjection) onCheckedIn(ctx context.Context, event *store.StoredEvent) error {
	var payload CheckedInPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.EventType, err)
	}
	if _, err := time.Parse(dayLayout, payload.Day); err != nil {
		return fmt.Errorf("invalid check-in day %q: %w", payload.Day, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin streak update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO habit_checkins (habit_id, day) VALUES (?, ?)",
		payload.HabitID, payload.Day)
	if err != nil {
		return fmt.Errorf("record check-in day: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record check-in day: %w", err)
	}
	if inserted == 0 {
		// This day was already counted for this habit, either a
		// duplicate check-in or a redelivered event.
		return nil
	}

	streak, err := p.loadStreak(ctx, tx, payload.HabitID)
	if err != nil {
		return err
	}

	current := 1
	if streak.LastCheckinDay != "" && nextDay(streak.LastCheckinDay) == payload.Day {
		current = streak.CurrentStreak + 1
	}

	longest := streak.LongestStreak
	if current > longest {
		longest = current
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO habit_streaks
			(habit_id, current_streak, longest_streak, last_checkin_day, total_checkins)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(habit_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_checkin_day = excluded.last_checkin_day,
			total_checkins = total_checkins + 1
	`, payload.HabitID, current, longest, payload.Day)
	if err != nil {
		return fmt.Errorf("update streak row: %w", err)
	}

	return tx.Commit()
}

func (p *StreakProjection) onArchived(ctx context.Context, event *store.StoredEvent) error {
	var payload ArchivedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.EventType, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin streak delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM habit_streaks WHERE habit_id = ?", payload.HabitID); err != nil {
		return fmt.Errorf("delete streak row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM habit_checkins WHERE habit_id = ?", payload.HabitID); err != nil {
		return fmt.Errorf("delete check-in days: %w", err)
	}

	return tx.Commit()
}

// Streak returns the read model row for a habit. A habit with no row
// yet is returned zero-valued rather than as an error.
func (p *StreakProjection) Streak(ctx context.Context, habitID string) (*Streak, error) {
	return p.loadStreak(ctx, p.db, habitID)
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *StreakProjection) loadStreak(ctx context.Context, q rowQuerier, habitID string) (*Streak, error) {
	s := &Streak{HabitID: habitID}

	err := q.QueryRowContext(ctx, `
		SELECT name, current_streak, longest_streak, last_checkin_day, total_checkins
		FROM habit_streaks
		WHERE habit_id = ?
	`, habitID).Scan(&s.Name, &s.CurrentStreak, &s.LongestStreak,
		&s.LastCheckinDay, &s.TotalCheckins)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load streak for %s: %w", habitID, err)
	}

	return s, nil
}

func nextDay(day string) string {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, 1).Format(dayLayout)
}
