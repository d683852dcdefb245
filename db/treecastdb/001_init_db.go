package treecastdb

import "context"

func (db *DB) init(ctx context.Context) error {
	_, err := db.x.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS job_runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			phases     INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at   TEXT NOT NULL
		)
	`)
	return err
}
