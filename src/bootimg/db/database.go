// Package db records build history in a SQLite database.
package db

import (
	"database/sql"
	"fmt"

	"github.com/bitswalk/bootimg/src/bootimg/db/migrations"
	"github.com/bitswalk/bootimg/src/common/paths"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Database wraps the SQLite connection
type Database struct {
	db   *sql.DB
	path string
}

// Config holds the database configuration
type Config struct {
	// Path is the SQLite file; MemoryPath keeps history for the process lifetime only
	Path string
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Path: "~/.bootimg/history.db",
	}
}

// New opens the database and applies pending migrations
func New(cfg Config) (*Database, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("database path not configured")
	}

	if path != MemoryPath {
		resolved, err := paths.Resolve(path)
		if err != nil {
			return nil, err
		}
		if err := paths.EnsureDir(resolved); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = resolved
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// A single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db, path: path}, nil
}

// DB returns the underlying sql.DB
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the resolved database location
func (d *Database) Path() string {
	return d.path
}

// Close closes the database
func (d *Database) Close() error {
	return d.db.Close()
}
