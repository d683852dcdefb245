// Package treecastdb implements an optional sqlite3-backed run-history
// recorder (SPEC_FULL.md §4): one row per completed job, so a long-lived
// coordinator can be asked "what ran, and when" after the fact. Grounded
// on db/atlasdb/db.go's sqlx.Connect + WAL-pragma-via-URL pattern; the
// atlasdb/pdatadb versioned migration framework is not carried over since
// a single append-only table has nothing to migrate between yet.
package treecastdb

import (
	"context"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
)

// DB records job completions.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a sqlite3 database at name and
// ensures its schema exists.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	db := &DB{x}
	if err := db.init(context.Background()); err != nil {
		x.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// RecordJob inserts one completed job's record, the Go analogue of
// job.c's otherwise-discarded completion event.
func (db *DB) RecordJob(ctx context.Context, kind string, phases int, start, end time.Time) error {
	_, err := db.x.ExecContext(ctx,
		`INSERT INTO job_runs (kind, phases, started_at, ended_at) VALUES (?, ?, ?, ?)`,
		kind, phases, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	return err
}

// OnComplete adapts RecordJob to job.Context.OnComplete's signature,
// logging (rather than failing the run) on a write error since history
// recording is a diagnostic aid, not load-bearing for the launch itself.
func (db *DB) OnComplete(logErr func(error)) func(kind string, phases int, start, end time.Time) {
	return func(kind string, phases int, start, end time.Time) {
		if err := db.RecordJob(context.Background(), kind, phases, start, end); err != nil && logErr != nil {
			logErr(err)
		}
	}
}
