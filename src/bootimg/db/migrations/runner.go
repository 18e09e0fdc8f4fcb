// Package migrations versions the build history schema.
package migrations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the migrations package
func SetLogger(l *logs.Logger) {
	log = l
}

// Migration is one schema change, applied inside its own transaction
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// All returns every known migration in version order
func All() []Migration {
	return []Migration{
		migration001InitialSchema(),
		migration002RunErrorCode(),
	}
}

// Status summarizes the schema state of a database
type Status struct {
	Current int // highest applied version, 0 for an empty database
	Latest  int // highest known version
	Pending []Migration
}

// Runner applies migrations to a database
type Runner struct {
	db         *sql.DB
	migrations []Migration
}

// NewRunner creates a runner over All()
func NewRunner(db *sql.DB) *Runner {
	return NewRunnerWith(db, All())
}

// NewRunnerWith creates a runner over an explicit migration list. The list
// must be sorted by strictly increasing version.
func NewRunnerWith(db *sql.DB, migrations []Migration) *Runner {
	return &Runner{db: db, migrations: migrations}
}

func (r *Runner) checkOrder() error {
	for i := 1; i < len(r.migrations); i++ {
		if r.migrations[i].Version <= r.migrations[i-1].Version {
			return errors.ErrInternal.WithMessagef("migration %d is out of order after %d",
				r.migrations[i].Version, r.migrations[i-1].Version)
		}
	}
	return nil
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	)
`

// Status reports the applied and pending migrations
func (r *Runner) Status() (*Status, error) {
	if err := r.checkOrder(); err != nil {
		return nil, err
	}
	if _, err := r.db.Exec(createMigrationsTable); err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("failed to create schema_migrations").WithCause(err)
	}

	rows, err := r.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("failed to read schema_migrations").WithCause(err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	status := &Status{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, errors.ErrDatabaseQuery.WithCause(err)
		}
		applied[v] = true
		if v > status.Current {
			status.Current = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrDatabaseQuery.WithCause(err)
	}

	for _, m := range r.migrations {
		status.Latest = m.Version
		if !applied[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// Run applies every pending migration in order and stops at the first
// failure. Applied migrations are never re-run.
func (r *Runner) Run() error {
	status, err := r.Status()
	if err != nil {
		return err
	}
	if status.Current > status.Latest {
		return errors.ErrDatabaseQuery.WithMessagef(
			"history schema version %d is newer than this bootimg supports (%d)", status.Current, status.Latest)
	}

	for _, m := range status.Pending {
		if err := r.apply(m); err != nil {
			log.Error("Migration failed", "version", m.Version, "description", m.Description, "error", err)
			return errors.ErrDatabaseQuery.
				WithMessagef("migration %d (%s) failed", m.Version, m.Description).
				WithCause(err)
		}
		log.Debug("Applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (r *Runner) apply(m Migration) (err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = m.Up(tx); err != nil {
		return err
	}
	if _, err = tx.Exec(
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
