// Package job implements the job engine (C5) and the four concrete job
// kinds (C6 build-tree, plus join/task/exit) described in spec.md §4.5,
// grounded on original_source/job.h and job.c.
package job

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/kraused/treecast/pkg/bus"
	"github.com/kraused/treecast/pkg/metricsx"
	"github.com/kraused/treecast/pkg/options"
	"github.com/kraused/treecast/pkg/overlay"
	"github.com/kraused/treecast/pkg/plugin"
	"github.com/kraused/treecast/pkg/worker"
)

// Context is the node-wide state threaded through every job's Work call,
// the Go analogue of struct spawn being passed by reference into
// job->work(job, spawn) in original_source/job.c. It is assembled by
// pkg/node and passed down rather than being a package-level global,
// per spec.md §9's design note against module-level mutable state.
type Context struct {
	Here int32
	Size int32

	Net  *overlay.Network
	Bus  *bus.Bus
	Pool *worker.Pool

	Opts *options.Pool

	ExecPlugin string // the configured exec plugin identifier
	Exec       plugin.ExecPlugin
	Task       plugin.TaskPlugin

	Log zerolog.Logger

	// AgentArgv0 is the path to the agent binary used when constructing
	// REQUEST_EXEC argv, per spec.md §6's
	// "<agent-binary> <parent-ip> <parent-port> <parent-id> <total-size> <child-id>"
	// convention.
	AgentArgv0 string
	SelfIP     uint32
	SelfPort   uint32

	// Enqueue appends a newly created job to the engine's list, used by
	// jobs that spawn further jobs (build-tree spawning a task job, a
	// REQUEST_BUILD_TREE/REQUEST_TASK/REQUEST_EXIT handler appending a
	// new job).
	Enqueue func(Job)

	// OnComplete, if set, is invoked once per completed job (used by the
	// optional history recorder, SPEC_FULL.md §4).
	OnComplete func(kind string, phases int, start, end time.Time)

	mu       sync.Mutex
	channels uint16
}

// ReserveChannel hands out a fresh virtual channel id, the analogue of
// spawn_comm_resv_channel.
func (c *Context) ReserveChannel() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels++
	return c.channels
}

// Job is the tagged-variant interface every job kind implements: Work
// advances the job by one step and reports whether it has completed.
// Jobs are removed from the engine's list and discarded once Work returns
// done=true, the Go analogue of job.c's LIST_FOREACH_S loop in
// _handle_jobs freeing completed jobs. Started and Phases feed the
// history recorder (jc.OnComplete) the job's own lifetime and how many
// phases it actually went through, rather than the engine's per-tick
// bookkeeping.
type Job interface {
	Kind() string
	Work(ctx context.Context, jc *Context) (done bool, err error)
	Started() time.Time
	Phases() int
}

// Engine holds the list of active jobs and advances them once per main
// loop tick.
type Engine struct {
	mu   sync.Mutex
	jobs *list.List

	completed *metrics.Counter
	active    *metrics.Gauge
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	e := &Engine{jobs: list.New()}
	e.completed = metrics.GetOrCreateCounter("treecast_jobs_completed_total")
	e.active = metrics.GetOrCreateGauge("treecast_jobs_active", func() float64 {
		e.mu.Lock()
		defer e.mu.Unlock()
		return float64(e.jobs.Len())
	})
	return e
}

// Add appends j to the active job list.
func (e *Engine) Add(j Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs.PushBack(j)
}

// Len reports how many jobs are currently active.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobs.Len()
}

// ForEachOfKind calls fn for every active job of the given kind, used by
// message handlers that need to locate "the" build-tree or join job (the
// protocol guarantees at most one is active at a time per spec.md §4.8).
func (e *Engine) ForEachOfKind(kind string, fn func(Job)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for el := e.jobs.Front(); el != nil; el = el.Next() {
		if j, ok := el.Value.(Job); ok && j.Kind() == kind {
			fn(j)
		}
	}
}

// Advance runs Work once on every active job, removing and discarding
// completed ones, the Go analogue of loop.c's _handle_jobs.
func (e *Engine) Advance(ctx context.Context, jc *Context) error {
	e.mu.Lock()
	var next *list.Element
	var toRun []*list.Element
	for el := e.jobs.Front(); el != nil; el = next {
		next = el.Next()
		toRun = append(toRun, el)
	}
	e.mu.Unlock()

	for _, el := range toRun {
		j := el.Value.(Job)
		done, err := j.Work(ctx, jc)
		if err != nil {
			return err
		}
		if done {
			e.mu.Lock()
			e.jobs.Remove(el)
			e.mu.Unlock()
			e.completed.Inc()
			metrics.GetOrCreateCounter(metricsx.WithLabels("treecast_jobs_completed_total", "kind", j.Kind())).Inc()
			if jc.OnComplete != nil {
				jc.OnComplete(j.Kind(), j.Phases(), j.Started(), time.Now())
			}
		}
	}
	return nil
}
