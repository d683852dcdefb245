package treecastdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestRecordAndOnComplete(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "treecast.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Second)
	if err := db.RecordJob(context.Background(), "task", 3, start, end); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	var count int
	if err := db.x.Get(&count, `SELECT COUNT(*) FROM job_runs WHERE kind = ?`, "task"); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one recorded row, got %d", count)
	}

	var logged error
	hook := db.OnComplete(func(err error) { logged = err })
	hook("exit", 1, start, end)
	if logged != nil {
		t.Fatalf("OnComplete should not report an error on a healthy DB: %v", logged)
	}

	if err := db.x.Get(&count, `SELECT COUNT(*) FROM job_runs`); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two recorded rows, got %d", count)
	}
}
