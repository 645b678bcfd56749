package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/stillpoint/stillpoint/pkg/sqlite/migrate"
)

//go:embed migrations/*.sql
var eventMigrationsFS embed.FS

//go:embed checkpoint_migrations/*.sql
var checkpointMigrationsFS embed.FS

// runEventMigrations applies the event log schema.
func runEventMigrations(db *sql.DB) error {
	m := migrate.New(db, "schema_migrations")

	if err := m.LoadFromFS(eventMigrationsFS, "migrations"); err != nil {
		return fmt.Errorf("failed to load event migrations: %w", err)
	}

	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to run event migrations: %w", err)
	}

	return nil
}

// runCheckpointMigrations applies the checkpoint schema. It uses its
// own tracking table so checkpoints can live in a separate database
// from the event log.
func runCheckpointMigrations(db *sql.DB) error {
	m := migrate.New(db, "checkpoint_schema_migrations")

	if err := m.LoadFromFS(checkpointMigrationsFS, "checkpoint_migrations"); err != nil {
		return fmt.Errorf("failed to load checkpoint migrations: %w", err)
	}

	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to run checkpoint migrations: %w", err)
	}

	return nil
}
