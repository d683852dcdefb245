package job

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/kraused/treecast/pkg/bus"
	"github.com/kraused/treecast/pkg/wire"
)

// flushTimeout bounds how long a node waits for its own queued frames to
// leave the send queue before giving up and exiting anyway; a stuck
// writer shouldn't wedge the whole exit cascade.
const flushTimeout = 5 * time.Second

// Exit is the shutdown job: broadcast REQUEST_EXIT, wait for every
// participant in this node's own subtree to acknowledge (relayed
// hop-by-hop acks count the same as a directly-received one), flush the
// bus, then terminate the process. Grounded on original_source/job.h's
// struct job_exit and job.c's _job_exit_ctor / _exit_work, which waits
// for nprocs == acks and calls spawn_comm_flush before exit at every
// node, not just the root: an interior node relays its descendants'
// RESPONSE_EXIT packets toward the root (each addressed dst=0, per
// pkg/node's route()), so it must keep running — and keep its own ack
// actually on the wire — until that relaying is done, or the root hangs
// waiting for acks that died with the interior node's process.
type Exit struct {
	mu sync.Mutex

	signum   uint32
	wantAcks int32
	acks     int32
	phase    int // 1: broadcast+ack, 2: await acks, 3: done

	start time.Time
}

// NewExit constructs the root's Exit job, waiting for nacks participants
// (all but the root) to acknowledge before the root itself exits.
func NewExit(signum uint32, nacks int32) *Exit {
	return &Exit{signum: signum, wantAcks: nacks, phase: 1, start: time.Now()}
}

// NewExitFromRequest constructs a non-root participant's Exit job from an
// arriving REQUEST_EXIT. subtreeSize is the number of descendants this
// node is itself responsible for relaying RESPONSE_EXIT acks from (0 for
// a leaf); the node exits only once it has relayed all of them in
// addition to sending its own ack.
func NewExitFromRequest(signum uint32, subtreeSize int32) *Exit {
	return &Exit{signum: signum, wantAcks: subtreeSize, phase: 1, start: time.Now()}
}

func (e *Exit) Kind() string { return "exit" }

// Started reports when this job began.
func (e *Exit) Started() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.start
}

// Phases reports how many phases this job has advanced through so far.
func (e *Exit) Phases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Ack records one RESPONSE_EXIT from a descendant.
func (e *Exit) Ack() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acks++
}

func (e *Exit) Work(ctx context.Context, jc *Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case 1:
		return false, e.phaseBroadcastAndAck(jc)
	case 2:
		return e.phaseAwaitAcks(jc)
	}
	return true, nil
}

func (e *Exit) phaseBroadcastAndAck(jc *Context) error {
	if jc.Here == 0 {
		msg := &wire.RequestExit{Signum: e.signum}
		payload, header, err := encode(wire.TypeRequestExit, msg, uint16(jc.Here), 0, true)
		if err != nil {
			return err
		}
		if err := jc.Bus.Enqueue(bus.Message{Header: header, Payload: payload}); err != nil {
			return err
		}
	}

	jc.Log.Info().Uint32("signum", e.signum).Msg("acknowledging exit")

	if jc.Here != 0 {
		resp := &wire.ResponseExit{}
		payload, header, err := encode(wire.TypeResponseExit, resp, uint16(jc.Here), 0, false)
		if err != nil {
			return err
		}
		if err := jc.Bus.Enqueue(bus.Message{Header: header, Payload: payload}); err != nil {
			return err
		}
	}

	if e.wantAcks > 0 {
		e.phase = 2
		return nil
	}
	e.phase = 3
	e.finish(jc)
	return nil
}

func (e *Exit) phaseAwaitAcks(jc *Context) (bool, error) {
	if e.acks >= e.wantAcks {
		e.phase = 3
		e.finish(jc)
	}
	return false, nil
}

// finish flushes every frame this node has queued — its own ack and any
// descendant acks it relayed — then terminates the process. Matches
// _exit_work's call into spawn_comm_flush immediately before exit(3): a
// node that skipped this could tear its process down with its own ack
// (or a relayed one) still sitting in the send queue, unwritten.
func (e *Exit) finish(jc *Context) {
	if err := jc.Bus.Flush(flushTimeout); err != nil {
		jc.Log.Warn().Err(err).Msg("exit flush timed out, terminating anyway")
	}
	jc.Log.Info().Msg("exit cascade drained, terminating")
	os.Exit(0)
}
