package migrations

import (
	"database/sql"
)

func migration001InitialSchema() Migration {
	return Migration{
		Version:     1,
		Description: "Add runs and run_stages tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE runs (
					id TEXT PRIMARY KEY,
					project_name TEXT NOT NULL,
					project_root TEXT NOT NULL,
					hardware_source TEXT DEFAULT '',
					toolchain_source TEXT DEFAULT '',
					status TEXT NOT NULL DEFAULT 'running',
					error_stage TEXT DEFAULT '',
					error_message TEXT DEFAULT '',
					boot_image_path TEXT DEFAULT '',
					boot_image_checksum TEXT DEFAULT '',
					boot_image_size INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					completed_at DATETIME
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE TABLE run_stages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					name TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					started_at DATETIME,
					completed_at DATETIME,
					duration_ms INTEGER DEFAULT 0,
					error_message TEXT DEFAULT '',
					FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE INDEX idx_runs_created_at ON runs(created_at);
				CREATE INDEX idx_run_stages_run_id ON run_stages(run_id);
			`)
			return err
		},
	}
}
