// Package journal persists finished invocations to a local SQLite database
// so operators can audit what ran, which definition handled it and why
// rejections happened. Recording sits on the submit path, so it stays cheap
// and callers treat failures as log-worthy, never fatal.
package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/skillgate/skillgate/pkg/contract"
	"github.com/skillgate/skillgate/pkg/engine"
)

// DefaultPath returns the journal location: $SKILLGATE_BASE_PATH/journal.db
// when the override is set, otherwise ~/.skillgate/journal.db.
func DefaultPath() (string, error) {
	if basePath := os.Getenv("SKILLGATE_BASE_PATH"); basePath != "" {
		return filepath.Join(basePath, "journal.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".skillgate", "journal.db"), nil
}

// Journal is the SQLite-backed invocation log. It implements engine.Recorder.
type Journal struct {
	db *sqlx.DB
}

// Open opens or creates the journal database at path, configures WAL mode
// and applies pending migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating journal directory")
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging journal database")
	}
	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configuring journal database")
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating journal database")
	}

	return &Journal{db: db}, nil
}

// configure sets up SQLite pragmas for WAL mode. The journal is a single
// low-traffic writer; one connection sidesteps SQLITE_BUSY entirely.
func configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "executing pragma %s", pragma)
		}
	}

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "querying journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled, current mode: %s", journalMode)
	}
	return nil
}

// Record implements engine.Recorder.
func (j *Journal) Record(ctx context.Context, entry engine.Entry) error {
	row := Record{
		InvocationID: entry.InvocationID,
		TaskText:     entry.TaskText,
		Definition:   entry.Definition,
		Kind:         entry.Kind,
		Status:       entry.Status,
		Attempts:     entry.Attempts,
		Reason:       entry.Reason,
		Violations:   JSONField[[]contract.Violation]{Data: entry.Violations},
		ElapsedMS:    entry.Elapsed.Milliseconds(),
		CreatedAt:    entry.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO invocations (
			invocation_id, task_text, definition, kind, status,
			attempts, reason, violations, elapsed_ms, created_at
		) VALUES (
			:invocation_id, :task_text, :definition, :kind, :status,
			:attempts, :reason, :violations, :elapsed_ms, :created_at
		)`, row)
	return errors.Wrap(err, "recording invocation")
}

// Recent returns up to limit journal records, newest first. A non-positive
// limit falls back to 20.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []Record
	err := j.db.SelectContext(ctx, &records, `
		SELECT id, invocation_id, task_text, definition, kind, status,
			attempts, reason, violations, elapsed_ms, created_at
		FROM invocations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying recent invocations")
	}
	return records, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
