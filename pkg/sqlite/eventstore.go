// Package sqlite provides SQLite-backed implementations of the event
// log and checkpoint store, with no CGo dependencies.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/stillpoint/stillpoint/pkg/idgen"
	"github.com/stillpoint/stillpoint/pkg/store"
)

// EventStore is a SQLite-backed append-only event log. Positions are
// assigned by the database and strictly increase across all streams.
type EventStore struct {
	db *sql.DB
	mu sync.Mutex // Serializes appends so positions commit in order
}

// eventStoreConfig holds internal configuration for the event store.
type eventStoreConfig struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "stillpoint.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// EventStoreOption is a function that configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = dsn
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxIdleConns = n
	}
}

// WithWALMode enables write-ahead logging for better concurrency.
// Not available for :memory: databases.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate enables automatic schema migration on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewEventStore creates a SQLite event store.
//
// Example usage:
//
//	// Defaults (stillpoint.db, WAL mode, auto-migrate)
//	events, err := sqlite.NewEventStore()
//
//	// In-memory database for testing
//	events, err := sqlite.NewEventStore(
//	    sqlite.WithDSN(":memory:"),
//	    sqlite.WithWALMode(false),
//	)
func NewEventStore(opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A :memory: database exists per connection, so the pool must be
	// pinned to a single connection.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	s := &EventStore{db: db}

	if config.walMode {
		if err := s.setWALMode(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runEventMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return s, nil
}

func (s *EventStore) setWALMode() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
	`)
	return err
}

// DB returns the underlying database connection, so the checkpoint
// store and read models can share it in co-located deployments.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Append appends events to a stream atomically. Each event is given a
// ULID identifier and a database-assigned global position.
func (s *EventStore) Append(streamID string, events ...store.NewEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, event := range events {
		_, err := tx.Exec(`
			INSERT INTO events (event_id, stream_id, event_type, payload, recorded_at)
			VALUES (?, ?, ?, ?, ?)
		`, idgen.NewSortableID(), streamID, event.EventType, event.Payload, now.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// ReadEvents returns up to maxCount events strictly after
// afterPosition, in ascending position order. An empty result means
// the reader is caught up.
func (s *EventStore) ReadEvents(afterPosition int64, maxCount int) ([]*store.StoredEvent, error) {
	rows, err := s.db.Query(`
		SELECT position, event_id, stream_id, event_type, payload, recorded_at
		FROM events
		WHERE position > ?
		ORDER BY position ASC
		LIMIT ?
	`, afterPosition, maxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	var events []*store.StoredEvent
	for rows.Next() {
		var (
			event      store.StoredEvent
			recordedAt int64
		)
		if err := rows.Scan(
			&event.Position,
			&event.ID,
			&event.StreamID,
			&event.EventType,
			&event.Payload,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.RecordedAt = time.Unix(recordedAt, 0).UTC()
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// Close closes the underlying database.
func (s *EventStore) Close() error {
	return s.db.Close()
}
