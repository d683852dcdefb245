package job

import (
	"context"
	"testing"
)

func TestJoinIsImmediatelyAcked(t *testing.T) {
	jc := rootContext(t, 4)

	for _, parent := range []int32{-1, 0} {
		j := NewJoin(parent)
		done, err := j.Work(context.Background(), jc)
		if err != nil {
			t.Fatalf("Work: %v", err)
		}
		if !done {
			t.Fatalf("Join(parent=%d) should already be acknowledged by construction", parent)
		}
	}
}
