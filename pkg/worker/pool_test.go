package worker

import (
	"context"
	"testing"
	"time"
)

type fakeExec struct{}

func (fakeExec) Exec(ctx context.Context, host string, argv []string) (int, error) {
	return 0, nil
}

func TestPoolRunsQueuedWork(t *testing.T) {
	p := New(fakeExec{}, 2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	done := make(chan Result, 1)
	p.Enqueue(Item{Host: "h0", Argv: []string{"true"}, Done: done})

	select {
	case r := <-done:
		if r.Err != nil || r.Status != 0 {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for work item to complete")
	}
}
