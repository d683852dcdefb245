package job

import (
	"context"
	"sync"
	"time"

	"github.com/kraused/treecast/pkg/bus"
	"github.com/kraused/treecast/pkg/wire"
)

// Task is the job that broadcasts the configured task plugin invocation to
// every participant and waits for all of them to report back, grounded on
// original_source/job.c's struct job_task and _task_work. Only the root
// constructs one (via BuildTree.phaseAwaitReady); every other participant
// gets its Task job from the node's REQUEST_TASK handler.
type Task struct {
	mu sync.Mutex

	path    string
	argv    []string
	channel uint16

	// wantAcks is the number of RESPONSE_TASK messages this job still
	// needs before it can complete: nprocs-1 on the root (everyone but
	// itself), 0 on every other participant (a leaf only has to run the
	// plugin and report back once, not collect acks of its own).
	wantAcks int32
	acks     int32

	phase int // 1: broadcast+run, 2: await acks, 3: done
	ret   int

	start time.Time
}

// NewTask constructs the root's Task job: broadcast to nacks participants
// (all but the root) and wait for all of them to answer.
func NewTask(path string, argv []string, channel uint16, nacks int32) *Task {
	return &Task{path: path, argv: argv, channel: channel, wantAcks: nacks, phase: 1, start: time.Now()}
}

// NewTaskFromRequest constructs a non-root participant's Task job from an
// arriving REQUEST_TASK — it only has to run the plugin locally and send a
// single RESPONSE_TASK upward, never collecting acks of its own.
func NewTaskFromRequest(path string, argv []string, channel uint16) *Task {
	return &Task{path: path, argv: argv, channel: channel, wantAcks: 0, phase: 1, start: time.Now()}
}

func (t *Task) Kind() string { return "task" }

// Started reports when this job began.
func (t *Task) Started() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start
}

// Phases reports how many phases this job has advanced through so far.
func (t *Task) Phases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Ack records one RESPONSE_TASK from a descendant, called by the node's
// message handler.
func (t *Task) Ack() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acks++
}

func (t *Task) Work(ctx context.Context, jc *Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.phase {
	case 1:
		return false, t.phaseBroadcastAndRun(ctx, jc)
	case 2:
		return t.phaseAwaitAcks(jc)
	}
	return true, nil
}

// phaseBroadcastAndRun fans RequestTask out to the whole tree (the root
// only — non-root Task jobs are born already past this point, their
// REQUEST_TASK having been the thing that created them) and runs the local
// plugin, exactly mirroring job.c's _prepare_task_job broadcasting once
// from the root and every recipient re-broadcasting to its own children
// via pkg/node's route(), which relays every broadcast it receives, not
// from here.
func (t *Task) phaseBroadcastAndRun(ctx context.Context, jc *Context) error {
	if jc.Here == 0 {
		msg := &wire.RequestTask{Path: t.path, Argv: t.argv, Channel: uint32(t.channel)}
		payload, header, err := encode(wire.TypeRequestTask, msg, uint16(jc.Here), 0, true)
		if err != nil {
			return err
		}
		payload = maybeCompress(jc, &header, payload)
		if err := jc.Bus.Enqueue(bus.Message{Header: header, Payload: payload}); err != nil {
			return err
		}
	}

	ret, err := t.run(ctx, jc)
	t.ret = ret
	if err != nil {
		jc.Log.Warn().Err(err).Str("path", t.path).Msg("task plugin returned an error")
	}

	if jc.Here != 0 {
		resp := &wire.ResponseTask{Ret: uint32(t.ret)}
		payload, header, encErr := encode(wire.TypeResponseTask, resp, uint16(jc.Here), 0, false)
		if encErr != nil {
			return encErr
		}
		if enqErr := jc.Bus.Enqueue(bus.Message{Header: header, Payload: payload}); enqErr != nil {
			return enqErr
		}
	}

	if t.wantAcks > 0 {
		t.phase = 2
	} else {
		t.phase = 3
	}
	return nil
}

func (t *Task) run(ctx context.Context, jc *Context) (int, error) {
	if jc.Task == nil {
		return 0, wire.ErrNotImplemented
	}
	if jc.Here == 0 {
		return jc.Task.Local(ctx, t.argv)
	}
	return jc.Task.Other(ctx, t.argv)
}

func (t *Task) phaseAwaitAcks(jc *Context) (bool, error) {
	if t.acks >= t.wantAcks {
		t.phase = 3
		return true, nil
	}
	return false, nil
}
