package job

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kraused/treecast/pkg/bus"
	"github.com/kraused/treecast/pkg/overlay"
)

type fakeTaskPlugin struct {
	localCalls int
	otherCalls int
	ret        int
}

func (f *fakeTaskPlugin) Local(ctx context.Context, argv []string) (int, error) {
	f.localCalls++
	return f.ret, nil
}

func (f *fakeTaskPlugin) Other(ctx context.Context, argv []string) (int, error) {
	f.otherCalls++
	return f.ret, nil
}

func rootContext(t *testing.T, size int32) *Context {
	t.Helper()
	n := overlay.New(0)
	if err := n.Resize(size); err != nil {
		t.Fatal(err)
	}
	b := bus.New(n, 16, zerolog.Nop())
	return &Context{
		Here: 0, Size: size,
		Net: n, Bus: b,
		Log:     zerolog.Nop(),
		Enqueue: func(Job) {},
	}
}

func TestTaskRootCompletesAfterAllAcks(t *testing.T) {
	jc := rootContext(t, 4)
	task := &fakeTaskPlugin{ret: 0}
	jc.Task = task

	tj := NewTask("/bin/true", nil, 1, 3)

	done, err := tj.Work(context.Background(), jc)
	if err != nil {
		t.Fatalf("first Work: %v", err)
	}
	if done {
		t.Fatal("root task should not be done before acks arrive")
	}
	if task.localCalls != 1 {
		t.Fatalf("expected one local plugin call, got %d", task.localCalls)
	}

	for i := 0; i < 2; i++ {
		if done, err := tj.Work(context.Background(), jc); err != nil || done {
			t.Fatalf("await phase should stay pending: done=%v err=%v", done, err)
		}
		tj.Ack()
	}
	tj.Ack()

	done, err = tj.Work(context.Background(), jc)
	if err != nil {
		t.Fatalf("final Work: %v", err)
	}
	if !done {
		t.Fatal("task job should be done once all acks arrived")
	}
}

func TestTaskFromRequestNeedsNoAcks(t *testing.T) {
	jc := rootContext(t, 4)
	jc.Here = 2
	task := &fakeTaskPlugin{ret: 7}
	jc.Task = task

	tj := NewTaskFromRequest("/bin/true", []string{"a"}, 5)
	done, err := tj.Work(context.Background(), jc)
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if done {
		t.Fatal("phase transition happens on next Work call")
	}
	if task.otherCalls != 1 {
		t.Fatalf("expected the non-root plugin path to run, got %d calls", task.otherCalls)
	}

	done, err = tj.Work(context.Background(), jc)
	if err != nil || !done {
		t.Fatalf("expected completion with zero acks required: done=%v err=%v", done, err)
	}
}
