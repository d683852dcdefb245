// Package node assembles the overlay, bus, worker pool and job engine
// into the single per-process runtime (C8: struct spawn) and drives the
// main loop described in spec.md §4.8, grounded on original_source/loop.c.
package node

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kraused/treecast/pkg/bus"
	"github.com/kraused/treecast/pkg/buffer"
	"github.com/kraused/treecast/pkg/job"
	"github.com/kraused/treecast/pkg/join"
	"github.com/kraused/treecast/pkg/options"
	"github.com/kraused/treecast/pkg/overlay"
	"github.com/kraused/treecast/pkg/plugin"
	"github.com/kraused/treecast/pkg/wire"
	"github.com/kraused/treecast/pkg/worker"
)

// tick is how often the main loop wakes up when no work is pending, the
// Go analogue of loop.c's select() timeout.
const tick = 250 * time.Millisecond

// Node is one participant's runtime: the overlay network, message bus,
// exec worker pool and job engine, wired together.
type Node struct {
	Here int32
	Size int32

	Net    *overlay.Network
	Bus    *bus.Bus
	Engine *job.Engine
	Pool   *worker.Pool

	cfg      *options.Config
	jc       *job.Context
	listener net.Listener

	protoVersion string
	pingEvery    time.Duration
	lastPing     time.Time

	subtreeSize int32 // descendants under this node, learned from RequestBuildTree; 0 for a leaf

	log zerolog.Logger
}

// NewRoot constructs the coordinator's Node: the process with no parent
// that owns the full host list and starts the build-tree job for the
// whole overlay.
func NewRoot(cfg *options.Config, agentArgv0 string, exec plugin.ExecPlugin, task plugin.TaskPlugin, log zerolog.Logger) (*Node, error) {
	size := int32(len(cfg.Hosts) + 1)
	if size <= 1 {
		return nil, fmt.Errorf("%w: no hosts configured", wire.ErrInvalid)
	}

	n, err := newNode(0, size, cfg, agentArgv0, exec, task, log)
	if err != nil {
		return nil, err
	}
	n.subtreeSize = size - 1

	hostIDs := make([]int32, size-1)
	for i := range hostIDs {
		hostIDs[i] = int32(i + 1)
	}
	n.Engine.Add(job.NewBuildTree(0, hostIDs, cfg.Hosts, -1, cfg.EffectiveTreeWidth(), cfg.WatchdogTimeout))
	n.Engine.Add(job.NewJoin(-1))
	return n, nil
}

// NewAgent constructs a freshly spawned agent's Node: it dials its parent,
// completes the synchronous join handshake, and comes back with its LFT
// routed entirely through port 0 and the runtime option pool the root
// shipped it. here, size and parentID come from the REQUEST_EXEC argv
// convention (spec.md §6); they are not learned from the handshake itself.
func NewAgent(ctx context.Context, parentAddr string, parentID, here, size int32, protoVersion string, exec plugin.ExecPlugin, task plugin.TaskPlugin, log zerolog.Logger) (*Node, error) {
	res, err := join.Dial(parentAddr, here, protoVersion, 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg, err := options.FromPool(res.Opts)
	if err != nil {
		res.Conn.Close()
		return nil, err
	}

	n, err := newNode(here, size, cfg, "", exec, task, log)
	if err != nil {
		res.Conn.Close()
		return nil, err
	}
	n.protoVersion = protoVersion

	if err := join.InstallAsParentPort(n.Net); err != nil {
		res.Conn.Close()
		return nil, err
	}
	n.Bus.AddPort(0, res.Conn)
	n.Engine.Add(job.NewJoin(parentID))
	return n, nil
}

func newNode(here, size int32, cfg *options.Config, agentArgv0 string, exec plugin.ExecPlugin, task plugin.TaskPlugin, log zerolog.Logger) (*Node, error) {
	netw := overlay.New(here)
	if err := netw.Resize(size); err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", wire.ErrIO)
	}
	netw.AddListenFDs([]int{0})

	// A node only ever expects as many inbound joins as it has children;
	// anything beyond that on the accept queue is either a misbehaving
	// peer or a duplicate dial and should block rather than exhaust fds.
	limited := netutil.LimitListener(l, int(cfg.EffectiveTreeWidth()))

	b := bus.New(netw, 1024, log)
	b.AddListener(limited)

	selfIP, selfPort, err := localIPPort(l.Addr())
	if err != nil {
		l.Close()
		return nil, err
	}

	pool := worker.New(exec, 8, 64)

	engine := job.NewEngine()
	jc := &job.Context{
		Here:       here,
		Size:       size,
		Net:        netw,
		Bus:        b,
		Pool:       pool,
		Opts:       cfg.ToPool(),
		ExecPlugin: cfg.ExecPlugin,
		Exec:       exec,
		Task:       task,
		Log:        log.With().Int32("participant", here).Logger(),
		AgentArgv0: agentArgv0,
		SelfIP:     selfIP,
		SelfPort:   selfPort,
		Enqueue:    engine.Add,
	}

	return &Node{
		Here: here, Size: size,
		Net: netw, Bus: b, Engine: engine, Pool: pool,
		cfg: cfg, jc: jc, listener: limited,
		protoVersion: cfg.ProtocolVersion,
		pingEvery:    cfg.WatchdogTimeout / 2,
		log:          jc.Log,
	}, nil
}

// SetOnComplete wires the optional job-completion hook (the history
// recorder), called once per completed job.
func (n *Node) SetOnComplete(fn func(kind string, phases int, start, end time.Time)) {
	n.jc.OnComplete = fn
}

// RunID returns the launch-wide correlation id the root generated (or was
// given), shipped to every agent inside the option pool.
func (n *Node) RunID() string { return n.cfg.RunID }

// Run drives the main loop until ctx is cancelled, the Go analogue of
// loop.c's top-level for(;;) in spawn_run.
func (n *Node) Run(ctx context.Context) error {
	n.Pool.Start(ctx)
	defer n.Pool.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.Bus.Run(gctx)
		return nil
	})

	loopErr := n.mainLoop(gctx)
	n.Bus.Close()
	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

// mainLoop is the per-tick procedure: advance jobs, emit a periodic ping
// from the root, accept pending children, and drain the bus.
func (n *Node) mainLoop(ctx context.Context) error {
	n.lastPing = time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := n.Engine.Advance(ctx, n.jc); err != nil {
			return err
		}

		if n.Here == 0 && n.pingEvery > 0 && time.Since(n.lastPing) > n.pingEvery {
			n.broadcastPing()
			n.lastPing = time.Now()
		}

		select {
		case ac := <-n.Bus.Accepted():
			if err := n.handleAccept(ac); err != nil {
				n.log.Warn().Err(err).Msg("rejecting incoming connection")
			}
		default:
		}

		if !n.Bus.WorkAvailable() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(tick):
			}
			continue
		}

		if msg, ok := n.Bus.Dequeue(tick); ok {
			n.route(msg)
		}
	}
}

func (n *Node) broadcastPing() {
	msg := &wire.Ping{Now: uint64(time.Now().Unix())}
	b := buffer.New(16)
	msg.Pack(b)
	header := wire.Header{Src: uint16(n.Here), Dst: 0, Flags: wire.FlagBroadcast, Type: wire.TypePing, Payload: uint32(b.Len())}
	if err := n.Bus.Enqueue(bus.Message{Header: header, Payload: append([]byte(nil), b.Bytes()...)}); err != nil {
		n.log.Warn().Err(err).Msg("failed to enqueue periodic ping")
	}
}

// handleAccept runs the parent-side join handshake on a freshly accepted
// connection, then wires it in as a bus port under the pause protocol,
// the Go analogue of _build_tree_listen's accept-and-handshake sequence.
func (n *Node) handleAccept(ac bus.AcceptedConn) error {
	var childID int32
	var found bool
	n.Engine.ForEachOfKind("build-tree", func(j job.Job) {
		if found {
			return
		}
		if bt, ok := j.(*job.BuildTree); ok {
			if id, ok := bt.FirstUnknownChild(); ok {
				childID, found = id, true
			}
		}
	})
	if !found {
		ac.Conn.Close()
		return fmt.Errorf("%w: no pending child expects a connection", wire.ErrInvalid)
	}

	if _, err := join.Accept(ac.Conn, childID, n.protoVersion, n.jc.Opts, 30*time.Second); err != nil {
		ac.Conn.Close()
		return err
	}

	var portIdx int
	if err := n.Bus.Pause(func() error {
		portIdx = n.Net.AddPorts([]int{0})
		return n.Net.ModifyLFT([]int32{childID}, portIdx)
	}); err != nil {
		ac.Conn.Close()
		return err
	}
	n.Bus.AddPort(portIdx, ac.Conn)

	n.Engine.ForEachOfKind("build-tree", func(j job.Job) {
		if bt, ok := j.(*job.BuildTree); ok {
			bt.MarkChildAlive(childID)
		}
	})
	return nil
}

// route either forwards msg toward its real destination (it arrived at an
// intermediate node on its way somewhere else) or hands it to the local
// message handler, the Go analogue of loop.c's per-message dispatch plus
// the original's implicit store-and-forward relaying at every hop.
func (n *Node) route(msg bus.Message) {
	if msg.Header.IsBroadcast() {
		n.handle(msg)
		if err := n.Bus.Enqueue(msg); err != nil && err != wire.ErrQueueFull {
			n.log.Warn().Err(err).Msg("failed to relay broadcast")
		}
		return
	}
	if msg.Header.Dst != uint16(n.Here) {
		fwd := msg
		fwd.FromPort = 0
		if err := n.Bus.Enqueue(fwd); err != nil {
			n.log.Warn().Err(err).Uint16("dst", msg.Header.Dst).Msg("failed to relay unicast")
			return
		}
		if msg.Header.Type == wire.TypeResponseExit {
			// This node is relaying a descendant's ack toward the root
			// without ever decoding or locally handling it; its own Exit
			// job still needs to know, so it doesn't tear its process
			// down (and stop relaying) before the rest of its subtree's
			// acks have passed through.
			n.Engine.ForEachOfKind("exit", func(j job.Job) {
				if e, ok := j.(*job.Exit); ok {
					e.Ack()
				}
			})
		}
		return
	}
	n.handle(msg)
}

func (n *Node) handle(msg bus.Message) {
	payload, err := decompressIfNeeded(msg.Header, msg.Payload)
	if err != nil {
		n.log.Warn().Err(err).Msg("dropping message with corrupt compressed payload")
		return
	}
	b := bufferFrom(payload)
	decoded, err := wire.DecodeMessage(msg.Header, b)
	if err != nil {
		n.log.Warn().Err(err).Uint16("type", msg.Header.Type).Msg("dropping malformed message")
		return
	}

	switch m := decoded.(type) {
	case *wire.Ping:
		n.log.Debug().Uint64("now", m.Now).Msg("ping")

	case *wire.RequestBuildTree:
		// Every participant was handed the same full hostname list at
		// join time (cfg.Hosts, carried in the option pool); only the
		// id sub-range is relayed down the tree, so the hostnames for
		// this subtree are recovered by indexing the global list,
		// aligned 1:1 with m.Hosts.
		names := make([]string, len(m.Hosts))
		for i, id := range m.Hosts {
			if idx := int(id) - 1; idx >= 0 && idx < len(n.cfg.Hosts) {
				names[i] = n.cfg.Hosts[idx]
			}
		}
		n.subtreeSize = int32(len(m.Hosts))
		n.Engine.Add(job.NewBuildTree(n.Here, m.Hosts, names, int32(msg.Header.Src), n.cfg.EffectiveTreeWidth(), n.cfg.WatchdogTimeout))

	case *wire.ResponseBuildTree:
		n.Engine.ForEachOfKind("build-tree", func(j job.Job) {
			if bt, ok := j.(*job.BuildTree); ok {
				bt.MarkChildReady(int32(msg.Header.Src), m.Deads)
			}
		})

	case *wire.RequestTask:
		n.Engine.Add(job.NewTaskFromRequest(m.Path, m.Argv, uint16(m.Channel)))

	case *wire.ResponseTask:
		n.Engine.ForEachOfKind("task", func(j job.Job) {
			if t, ok := j.(*job.Task); ok {
				t.Ack()
			}
		})

	case *wire.RequestExit:
		n.Engine.Add(job.NewExitFromRequest(m.Signum, n.subtreeSize))

	case *wire.ResponseExit:
		n.Engine.ForEachOfKind("exit", func(j job.Job) {
			if e, ok := j.(*job.Exit); ok {
				e.Ack()
			}
		})

	default:
		n.log.Warn().Uint16("type", msg.Header.Type).Msg("unhandled message type")
	}
}
