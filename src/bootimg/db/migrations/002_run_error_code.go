package migrations

import (
	"database/sql"
)

func migration002RunErrorCode() Migration {
	return Migration{
		Version:     2,
		Description: "Add error_code column to runs",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE runs ADD COLUMN error_code TEXT DEFAULT ''`)
			return err
		},
	}
}
