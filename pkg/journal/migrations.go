package journal

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// migration is one schema change, versioned with a timestamp (YYYYMMDDHHmmss)
// so independently written migrations order themselves.
type migration struct {
	version     int64
	description string
	up          func(*sql.Tx) error
}

var migrations = []migration{
	{
		version:     20250812110000,
		description: "Create invocations table",
		up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS invocations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					invocation_id TEXT NOT NULL UNIQUE,
					task_text TEXT NOT NULL,
					definition TEXT NOT NULL DEFAULT '',
					kind TEXT NOT NULL,
					status TEXT NOT NULL,
					attempts INTEGER NOT NULL DEFAULT 0,
					reason TEXT NOT NULL DEFAULT '',
					violations TEXT NOT NULL DEFAULT 'null',
					elapsed_ms INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "creating invocations table")
			}

			_, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_invocations_created_at
				ON invocations(created_at)
			`)
			return errors.Wrap(err, "creating created_at index")
		},
	},
}

// migrate applies every pending migration in version order.
func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`); err != nil {
		return errors.Wrap(err, "creating schema_migrations table")
	}

	var versions []int64
	if err := db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return errors.Wrap(err, "reading applied migrations")
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version < sorted[j].version })

	for _, m := range sorted {
		if applied[m.version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return errors.Wrapf(err, "applying migration %d: %s", m.version, m.description)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sqlx.DB, m migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if err := m.up(tx.Tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.version, time.Now(), m.description); err != nil {
		return errors.Wrap(err, "recording migration")
	}
	return tx.Commit()
}
