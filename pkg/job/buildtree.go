package job

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kraused/treecast/pkg/bus"
	"github.com/kraused/treecast/pkg/wire"
)

// Child state, per spec.md §3's "BuildTree state per child".
const (
	Unborn = iota
	Unknown
	Alive
	Dead
	Ready
)

// Child tracks one direct child of a BuildTree job.
type Child struct {
	ID      int32
	HostIdx int32 // offset into the owning job's Hosts slice
	NHosts  int32 // size of the subtree rooted at this child
	State   int
	Spawned time.Time
}

// BuildTree is the job that grows one node's subtree: spawn each direct
// child, wait for it to join and (if it has a non-empty subtree of its
// own) build its own subtree, then report completion upward. Grounded on
// original_source/job.c's struct job_build_tree and _build_tree_work.
type BuildTree struct {
	mu sync.Mutex

	hosts   []int32 // the full slice of participant ids in this subtree (not including self)
	names   []string
	parent  int32 // this node's parent id, or -1 if root
	timeout time.Duration

	children []*Child

	phase int
	start time.Time

	deads uint32
}

// NewBuildTree constructs a BuildTree job for the given sub-slice of
// participant ids (hosts, not including the caller), partitioning them
// into at most TreeWidth children exactly per job.c's
// _job_build_tree_ctor: quot = nhosts/nchildren, each child i gets
// [quot*i, quot*(i+1)) except the last, which absorbs the remainder.
func NewBuildTree(here int32, hosts []int32, names []string, parent int32, treeWidth int, timeout time.Duration) *BuildTree {
	b := &BuildTree{hosts: hosts, names: names, parent: parent, timeout: timeout, start: time.Now()}

	nhosts := int32(len(hosts))
	if nhosts == 0 {
		b.phase = 3 // nothing to do; immediately eligible to report Ready.
		return b
	}

	nchildren := treeWidth
	if int32(nchildren) > nhosts {
		nchildren = int(nhosts)
	}
	if nchildren <= 0 {
		nchildren = 1
	}
	quot := nhosts / int32(nchildren)
	if quot == 0 {
		quot = 1
		nchildren = int(nhosts)
	}

	for i := 0; i < nchildren; i++ {
		hostIdx := quot * int32(i)
		n := quot - 1
		if n < 0 {
			n = 0
		}
		b.children = append(b.children, &Child{
			ID:      here + 1 + hostIdx,
			HostIdx: hostIdx,
			NHosts:  n,
			State:   Unborn,
		})
	}
	// The last child absorbs whatever remainder the integer division
	// dropped, exactly as job.c's comment describes.
	if n := len(b.children); n > 0 {
		last := b.children[n-1]
		last.NHosts = nhosts - (last.HostIdx + 1)
	}

	b.phase = 1
	return b
}

func (b *BuildTree) Kind() string { return "build-tree" }

// MarkChildAlive transitions the child identified by id to Alive, called
// by the node's REQUEST_JOIN handler once the LFT route is installed.
// Returns false if id does not belong to this job.
func (b *BuildTree) MarkChildAlive(id int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.children {
		if c.ID == id {
			c.State = Alive
			return true
		}
	}
	return false
}

// MarkChildReady transitions the child to Ready (or Dead, if deads>0 was
// reported and the child chooses to propagate that as a failure — here we
// simply record the deads count and mark Ready, since spec.md's redesign
// note treats deads as informational propagation, not a child-level
// failure), called by the node's RESPONSE_BUILD_TREE handler.
func (b *BuildTree) MarkChildReady(id int32, deads uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.children {
		if c.ID == id {
			c.State = Ready
			b.deads += deads
			return true
		}
	}
	return false
}

// Work advances the build-tree state machine by one step.
func (b *BuildTree) Work(ctx context.Context, jc *Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case 1:
		return false, b.phaseSpawn(jc)
	case 2:
		return false, b.phaseAwaitJoin(jc)
	case 3:
		return b.phaseAwaitReady(jc)
	}
	return true, nil
}

// phaseSpawn dispatches a REQUEST_EXEC to the local exec worker pool for
// each child — the Go analogue of job.c's _build_tree_spawn_children. It
// opens no listening endpoint: children dial the single listener pkg/node
// opened for this node (jc.SelfIP/jc.SelfPort).
// Unlike the original, which routes REQUEST_EXEC through the message bus
// even for local delivery, this goes straight to jc.Pool: the Go Context
// already gives every job direct access to the worker pool, so the extra
// self-addressed message hop the C version needs (because its worker pool
// is only reachable via the message dispatch table) buys nothing here.
func (b *BuildTree) phaseSpawn(jc *Context) error {
	for _, c := range b.children {
		if c.State != Unborn {
			continue
		}
		host := ""
		if int(c.HostIdx) < len(b.names) {
			host = b.names[c.HostIdx]
		}
		argv := []string{
			jc.AgentArgv0,
			fmt.Sprintf("%d", jc.SelfIP),
			fmt.Sprintf("%d", jc.SelfPort),
			strconv.Itoa(int(jc.Here)),
			strconv.Itoa(int(jc.Size)),
			strconv.Itoa(int(c.ID)),
		}
		go jc.Pool.Enqueue(newExecItem(jc, host, argv))
		c.State = Unknown
		c.Spawned = time.Now()
	}
	b.phase = 2
	return nil
}

func (b *BuildTree) phaseAwaitJoin(jc *Context) error {
	allDone := true
	for _, c := range b.children {
		switch c.State {
		case Unknown:
			if time.Since(c.Spawned) > b.timeout {
				jc.Log.Warn().Int32("child", c.ID).Msg("build-tree child join timed out, declaring dead")
				c.State = Dead
				b.deads++
			} else {
				allDone = false
			}
		case Alive:
			if c.NHosts == 0 {
				c.State = Ready
			}
		case Unborn:
			allDone = false
		}
	}
	if allDone {
		// Every child has joined or been declared dead: send each joined
		// child with a non-empty subtree its REQUEST_BUILD_TREE exactly
		// once, then wait for the responses in phase 3.
		for _, c := range b.children {
			if c.State == Alive {
				if err := b.sendBuildTreeRequest(jc, c); err != nil {
					return err
				}
			}
		}
		b.phase = 3
	}
	return nil
}

func (b *BuildTree) sendBuildTreeRequest(jc *Context, c *Child) error {
	subHosts := b.hosts[c.HostIdx+1 : c.HostIdx+1+c.NHosts]
	msg := &wire.RequestBuildTree{Hosts: subHosts}
	payload, header, err := encode(wire.TypeRequestBuildTree, msg, uint16(jc.Here), uint16(c.ID), false)
	if err != nil {
		return err
	}
	return jc.Bus.Enqueue(bus.Message{Header: header, Payload: payload})
}

func (b *BuildTree) phaseAwaitReady(jc *Context) (bool, error) {
	for _, c := range b.children {
		if c.State != Ready && c.State != Dead {
			return false, nil
		}
	}

	if b.parent >= 0 {
		msg := &wire.ResponseBuildTree{Deads: b.deads}
		payload, header, err := encode(wire.TypeResponseBuildTree, msg, uint16(jc.Here), uint16(b.parent), false)
		if err != nil {
			return false, err
		}
		if err := jc.Bus.Enqueue(bus.Message{Header: header, Payload: payload}); err != nil {
			return false, err
		}
	} else if jc.Enqueue != nil {
		// Root: the tree is complete. Enqueue the task job, per job.c's
		// post-completion root-only actions in _build_tree_work. The exec
		// worker pool keeps running; Node.Run stops it when it returns.
		if path, ok := jc.Opts.Find("TaskPlugin"); ok && path != "" {
			argvStr, _ := jc.Opts.Find("TaskArgv")
			jc.Enqueue(NewTask(path, tokenize(argvStr), jc.ReserveChannel(), jc.Size-1))
		}
	}
	return true, nil
}

// tokenize splits argv on whitespace, the naive (no-quoting) algorithm
// original_source/job.c's _prepare_task_job uses.
func tokenize(s string) []string {
	return strings.Fields(s)
}

// FirstUnknownChild returns the id of a child still awaiting its
// REQUEST_JOIN, used by the node's accept handler to match an arriving
// connection against the spawn that should be dialing in (spec.md §5.4's
// NAT-sensitive peer matching: the claimed source address is only a hint,
// so the accept handler falls back to "the next child we're expecting").
func (b *BuildTree) FirstUnknownChild() (int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.children {
		if c.State == Unknown {
			return c.ID, true
		}
	}
	return 0, false
}

// Deads reports how many descendants were declared Dead while this
// subtree was being built.
func (b *BuildTree) Deads() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deads
}

// Started reports when this job began.
func (b *BuildTree) Started() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start
}

// Phases reports how many phases this job has advanced through so far.
func (b *BuildTree) Phases() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}
