package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stillpoint/stillpoint/pkg/store"
)

// CheckpointStore is a SQLite-backed implementation of
// store.CheckpointStore.
//
// It can use either:
// 1. The same database as the EventStore (for co-located deployments)
// 2. A separate database (for independent scaling of read models)
type CheckpointStore struct {
	db *sql.DB
}

// checkpointStoreConfig holds internal configuration for the checkpoint store.
type checkpointStoreConfig struct {
	autoMigrate bool
}

func defaultCheckpointStoreConfig() checkpointStoreConfig {
	return checkpointStoreConfig{
		autoMigrate: true,
	}
}

// CheckpointStoreOption is a function that configures a CheckpointStore.
type CheckpointStoreOption func(*checkpointStoreConfig)

// WithCheckpointAutoMigrate enables automatic schema migration on startup.
func WithCheckpointAutoMigrate(enabled bool) CheckpointStoreOption {
	return func(c *checkpointStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewCheckpointStore creates a SQLite checkpoint store on the given
// database. By default it auto-migrates its schema.
//
// Example usage:
//
//	// Share the event store's database
//	checkpoints, err := sqlite.NewCheckpointStore(events.DB())
func NewCheckpointStore(db *sql.DB, opts ...CheckpointStoreOption) (*CheckpointStore, error) {
	config := defaultCheckpointStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	s := &CheckpointStore{db: db}

	if config.autoMigrate {
		if err := runCheckpointMigrations(db); err != nil {
			return nil, fmt.Errorf("failed to run checkpoint migrations: %w", err)
		}
	}

	return s, nil
}

// DB returns the underlying database connection.
func (s *CheckpointStore) DB() *sql.DB {
	return s.db
}

// Ensure creates the checkpoint row for a projection if absent.
// An existing row is left untouched, so re-registration on boot never
// loses progress.
func (s *CheckpointStore) Ensure(projectionName string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.Exec(`
		INSERT INTO projection_checkpoints
			(projection_name, position, running, error_count, created_at, updated_at)
		VALUES (?, 0, 0, 0, ?, ?)
		ON CONFLICT(projection_name) DO NOTHING
	`, projectionName, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure checkpoint: %w", err)
	}
	return nil
}

// Load loads the checkpoint for a projection.
func (s *CheckpointStore) Load(projectionName string) (*store.ProjectionCheckpoint, error) {
	row := s.db.QueryRow(`
		SELECT projection_name, position, running, error_count,
		       last_error, last_processed_at, created_at, updated_at
		FROM projection_checkpoints
		WHERE projection_name = ?
	`, projectionName)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for %s: %w", projectionName, store.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return cp, nil
}

// LoadAll returns all checkpoint rows ordered by projection name.
func (s *CheckpointStore) LoadAll() ([]*store.ProjectionCheckpoint, error) {
	rows, err := s.db.Query(`
		SELECT projection_name, position, running, error_count,
		       last_error, last_processed_at, created_at, updated_at
		FROM projection_checkpoints
		ORDER BY projection_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.ProjectionCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}

	return checkpoints, nil
}

// Save persists the mutable checkpoint fields in one durable write.
// The row must already exist (Ensure runs at registration).
func (s *CheckpointStore) Save(cp *store.ProjectionCheckpoint) error {
	var lastError any
	if cp.LastError != "" {
		lastError = cp.LastError
	}

	var lastProcessedAt any
	if !cp.LastProcessedAt.IsZero() {
		lastProcessedAt = cp.LastProcessedAt.Unix()
	}

	res, err := s.db.Exec(`
		UPDATE projection_checkpoints
		SET position = ?,
		    running = ?,
		    error_count = ?,
		    last_error = ?,
		    last_processed_at = ?,
		    updated_at = ?
		WHERE projection_name = ?
	`, cp.Position, boolToInt(cp.Running), cp.ErrorCount, lastError,
		lastProcessedAt, time.Now().UTC().Unix(), cp.ProjectionName)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("checkpoint for %s: %w", cp.ProjectionName, store.ErrCheckpointNotFound)
	}

	return nil
}

// SetRunning flips the running flag for a projection.
func (s *CheckpointStore) SetRunning(projectionName string, running bool) error {
	_, err := s.db.Exec(`
		UPDATE projection_checkpoints
		SET running = ?, updated_at = ?
		WHERE projection_name = ?
	`, boolToInt(running), time.Now().UTC().Unix(), projectionName)
	if err != nil {
		return fmt.Errorf("failed to set running flag: %w", err)
	}
	return nil
}

// Reset zeroes position and error state, forcing a full replay.
func (s *CheckpointStore) Reset(projectionName string) error {
	_, err := s.db.Exec(`
		UPDATE projection_checkpoints
		SET position = 0,
		    error_count = 0,
		    last_error = NULL,
		    updated_at = ?
		WHERE projection_name = ?
	`, time.Now().UTC().Unix(), projectionName)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*store.ProjectionCheckpoint, error) {
	var (
		cp              store.ProjectionCheckpoint
		running         int
		lastError       sql.NullString
		lastProcessedAt sql.NullInt64
		createdAt       int64
		updatedAt       int64
	)

	err := row.Scan(
		&cp.ProjectionName,
		&cp.Position,
		&running,
		&cp.ErrorCount,
		&lastError,
		&lastProcessedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cp.Running = running != 0
	cp.LastError = lastError.String
	if lastProcessedAt.Valid {
		cp.LastProcessedAt = time.Unix(lastProcessedAt.Int64, 0).UTC()
	}
	cp.CreatedAt = time.Unix(createdAt, 0).UTC()
	cp.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &cp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
