// Package bus implements the background message bus (C4): the subsystem
// that multiplexes reads and writes across the listening sockets and
// per-participant connections described by an overlay.Network.
//
// Grounded on original_source/comm.c's _comm_thread and its helpers
// (_comm_fill_sendb, _comm_fill_pollfds_events, _comm_accept, _comm_reads,
// _comm_writes, _comm_handle_net_changes). comm.c hand-rolls a single
// poll()-based thread because C has no runtime-multiplexed blocking I/O;
// Go's runtime netpoller already provides that, so this port is one
// goroutine per connection (reader + writer) plus one dispatcher goroutine
// serializing the send queue, rather than one thread calling poll() in a
// loop over a manually maintained pollfd array. The external behavior
// comm.c documents — FIFO-per-port delivery, broadcast-drains-all-ports-
// first ordering, a single in-flight send/receive buffer per port, the
// pause/resume protocol bracketing LFT mutation — is preserved exactly;
// only the mechanism by which readiness is discovered changes. This
// mirrors how pkg/nspkt/listener.go in the teacher repo runs its own
// blocking read loop in a dedicated goroutine rather than hand-rolling
// poll() itself.
package bus

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/kraused/treecast/pkg/metricsx"
	"github.com/kraused/treecast/pkg/overlay"
	"github.com/kraused/treecast/pkg/wire"
)

// Message is one frame moving through the bus's queues. FromPort is
// 1-based: 0 means the message was originated locally (a job encoding a
// new message, or the node relaying one node-to-node hop), N+1 means it
// arrived on port N. The dispatcher uses this to avoid immediately
// re-sending a forwarded broadcast back out the port it just arrived on.
type Message struct {
	Header   wire.Header
	Payload  []byte
	FromPort int
}

// AcceptedConn is handed to the node's main loop when a new connection
// arrives on a listening socket, so the foreground can decide how to wire
// it into the overlay (install a port, run the join handshake, etc.)
// under the pause protocol.
type AcceptedConn struct {
	Conn net.Conn
}

// Bus is the background message bus.
type Bus struct {
	net *overlay.Network
	log zerolog.Logger

	pauseMu sync.RWMutex // held for read while dispatching; Pause takes the write lock

	portsMu sync.Mutex
	ports   []*port

	sendMu   sync.Mutex
	sendCond *sync.Cond
	sendQ    []Message
	sendCap  int

	recvMu sync.Mutex
	recvQ  []Message
	signal chan struct{}

	acceptSlot chan AcceptedConn // capacity 1: single in-flight accept handoff slot

	listeners []net.Listener

	closeOnce sync.Once
	done      chan struct{}

	metricQueueDepth  *metrics.Gauge
	metricBytesSent   *metrics.Counter
	metricBytesRecv   *metrics.Counter
	metricSendErrors  *metrics.Counter
	metricAcceptDrops *metrics.Counter
}

type port struct {
	idx    int
	conn   net.Conn
	sendCh chan Message // capacity 1: single in-flight send slot
	dead   chan struct{}
}

// New constructs a Bus over net. sendQueueCap bounds the send queue;
// Enqueue returns wire.ErrQueueFull once it is reached rather than
// blocking, per spec.md §9's resolution of the "does comm_enqueue block"
// open question in favor of the implementation's actual (non-blocking)
// behavior.
func New(n *overlay.Network, sendQueueCap int, log zerolog.Logger) *Bus {
	if sendQueueCap <= 0 {
		sendQueueCap = 1024
	}
	b := &Bus{
		net:        n,
		log:        log.With().Str("component", "bus").Logger(),
		sendCap:    sendQueueCap,
		signal:     make(chan struct{}, 1),
		acceptSlot: make(chan AcceptedConn, 1),
		done:       make(chan struct{}),
	}
	b.sendCond = sync.NewCond(&b.sendMu)

	depthName := metricsx.WithLabels("treecast_bus_send_queue_depth", "participant", fmt.Sprintf("%d", n.Here()))
	b.metricQueueDepth = metrics.GetOrCreateGauge(depthName, func() float64 {
		b.sendMu.Lock()
		defer b.sendMu.Unlock()
		return float64(len(b.sendQ))
	})
	b.metricBytesSent = metrics.GetOrCreateCounter(`treecast_bus_bytes_sent_total`)
	b.metricBytesRecv = metrics.GetOrCreateCounter(`treecast_bus_bytes_received_total`)
	b.metricSendErrors = metrics.GetOrCreateCounter(`treecast_bus_send_errors_total`)
	b.metricAcceptDrops = metrics.GetOrCreateCounter(`treecast_bus_accept_collisions_total`)
	return b
}

// AddListener registers a listening socket and starts its accept loop.
func (b *Bus) AddListener(l net.Listener) {
	b.listeners = append(b.listeners, l)
	go b.acceptLoop(l)
}

func (b *Bus) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-b.done:
				return
			default:
			}
			b.log.Warn().Err(err).Msg("accept failed")
			return
		}
		select {
		case b.acceptSlot <- AcceptedConn{Conn: conn}:
		default:
			// A burst of simultaneous connects loses all but one per tick;
			// the losing connection is closed and logged rather than
			// aborting the node (spec.md §9 open question, resolved per
			// SPEC_FULL.md §5.4).
			b.metricAcceptDrops.Inc()
			b.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("dropping colliding accept, slot occupied")
			conn.Close()
		}
	}
}

// Accepted returns the channel the node's main loop polls for newly
// accepted connections.
func (b *Bus) Accepted() <-chan AcceptedConn { return b.acceptSlot }

// AddPort wires an established connection in as port idx (idx must equal
// the index AddPorts returned on the Network) and starts its reader and
// writer goroutines. Must be called while paused (see Pause).
func (b *Bus) AddPort(idx int, conn net.Conn) {
	p := &port{idx: idx, conn: conn, sendCh: make(chan Message, 1), dead: make(chan struct{})}
	b.portsMu.Lock()
	for len(b.ports) <= idx {
		b.ports = append(b.ports, nil)
	}
	b.ports[idx] = p
	b.portsMu.Unlock()

	go b.readLoop(p)
	go b.writeLoop(p)
}

// Pause acquires the bus's pause gate, blocking the dispatcher from
// consulting the LFT mid-dispatch, then runs fn (typically a
// Network.AddPorts/ModifyLFT/AddListenFDs call) before releasing it. This
// is the Go analogue of comm_stop_processing / network_lock_acquire /
// ... / network_lock_release / comm_resume_processing in
// original_source/job.c's _build_tree_listen.
func (b *Bus) Pause(fn func() error) error {
	b.pauseMu.Lock()
	defer b.pauseMu.Unlock()
	return fn()
}

func (b *Bus) readLoop(p *port) {
	defer close(p.dead)
	var hdrBuf [wire.HeaderSize]byte
	for {
		if _, err := io.ReadFull(p.conn, hdrBuf[:]); err != nil {
			if err != io.EOF {
				b.log.Warn().Int("port", p.idx).Err(err).Msg("read header failed")
			}
			return
		}
		h, err := wire.UnpackHeader(hdrBuf[:])
		if err != nil {
			b.log.Warn().Int("port", p.idx).Err(err).Msg("malformed header, dropping connection")
			return
		}
		payload := make([]byte, h.Payload)
		if _, err := io.ReadFull(p.conn, payload); err != nil {
			b.log.Warn().Int("port", p.idx).Err(err).Msg("read payload failed")
			return
		}
		b.metricBytesRecv.Add(wire.HeaderSize + len(payload))
		b.pushRecv(Message{Header: h, Payload: payload, FromPort: p.idx + 1})
	}
}

func (b *Bus) writeLoop(p *port) {
	for {
		select {
		case msg, ok := <-p.sendCh:
			if !ok {
				return
			}
			if err := b.writeFrame(p.conn, msg); err != nil {
				b.metricSendErrors.Inc()
				b.log.Warn().Int("port", p.idx).Err(err).Msg("write failed, single-port I/O error, continuing")
				return
			}
			b.metricBytesSent.Add(wire.HeaderSize + len(msg.Payload))
		case <-p.dead:
			return
		}
	}
}

func (b *Bus) writeFrame(w io.Writer, msg Message) error {
	var hdrBuf [wire.HeaderSize]byte
	h := msg.Header
	h.Payload = uint32(len(msg.Payload))
	if err := wire.PackHeader(hdrBuf[:], &h); err != nil {
		return err
	}
	if _, err := w.Write(hdrBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg.Payload)
	return err
}

func (b *Bus) pushRecv(msg Message) {
	b.recvMu.Lock()
	b.recvQ = append(b.recvQ, msg)
	b.recvMu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Enqueue submits msg for sending, returning wire.ErrQueueFull if the send
// queue is already at capacity. This resolves spec.md §9's "does
// comm_enqueue block when full" open question in favor of the source's
// actual (non-blocking) behavior rather than its stale doc comment.
func (b *Bus) Enqueue(msg Message) error {
	b.sendMu.Lock()
	if len(b.sendQ) >= b.sendCap {
		b.sendMu.Unlock()
		return wire.ErrQueueFull
	}
	b.sendQ = append(b.sendQ, msg)
	b.sendCond.Signal()
	b.sendMu.Unlock()
	return nil
}

// Flush blocks until every message enqueued so far has left the send
// queue (handed off to a port's writer goroutine), or returns
// wire.ErrTimeout if timeout elapses first. The Go analogue of
// comm_flush: a synchronous barrier a node takes before tearing itself
// down, so its own just-enqueued frames are not lost to a doomed
// process racing the dispatcher goroutine.
func (b *Bus) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		b.sendMu.Lock()
		empty := len(b.sendQ) == 0
		b.sendMu.Unlock()
		if empty {
			return nil
		}
		if time.Now().After(deadline) {
			return wire.ErrTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Run is the dispatcher loop: it runs on the calling goroutine, handing
// queued messages to the ports, and returns when ctx is done.
func (b *Bus) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.closeOnce.Do(func() { close(b.done) })
		b.sendMu.Lock()
		b.sendCond.Broadcast()
		b.sendMu.Unlock()
	}()

	for {
		b.sendMu.Lock()
		for len(b.sendQ) == 0 {
			select {
			case <-b.done:
				b.sendMu.Unlock()
				return
			default:
			}
			b.sendCond.Wait()
		}
		msg := b.sendQ[0]
		b.sendQ = b.sendQ[1:]
		b.sendMu.Unlock()

		select {
		case <-b.done:
			return
		default:
		}

		b.dispatch(msg)
	}
}

func (b *Bus) dispatch(msg Message) {
	b.pauseMu.RLock()
	defer b.pauseMu.RUnlock()

	if msg.Header.IsBroadcast() {
		exclude := msg.FromPort - 1 // -1 (no exclusion) if FromPort is 0
		b.portsMu.Lock()
		ports := append([]*port(nil), b.ports...)
		b.portsMu.Unlock()
		for _, p := range ports {
			if p == nil || p.idx == exclude {
				continue
			}
			select {
			case p.sendCh <- msg:
			case <-p.dead:
			}
		}
		return
	}

	route := b.net.Route(int32(msg.Header.Dst))
	if route == overlay.Unknown {
		b.metricSendErrors.Inc()
		b.log.Error().Uint16("dst", msg.Header.Dst).Msg("no route for unicast destination, dropping")
		return
	}
	b.portsMu.Lock()
	var p *port
	if int(route) < len(b.ports) {
		p = b.ports[route]
	}
	b.portsMu.Unlock()
	if p == nil {
		b.log.Error().Int32("port", route).Msg("route points at nonexistent port, dropping")
		return
	}
	select {
	case p.sendCh <- msg:
	case <-p.dead:
	}
}

// Dequeue blocks up to timeout for a received message, returning
// (msg, true) if one was available, or (zero, false) on timeout.
func (b *Bus) Dequeue(timeout time.Duration) (Message, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		b.recvMu.Lock()
		if len(b.recvQ) > 0 {
			msg := b.recvQ[0]
			b.recvQ = b.recvQ[1:]
			b.recvMu.Unlock()
			return msg, true
		}
		b.recvMu.Unlock()

		select {
		case <-b.signal:
			continue
		case <-deadline.C:
			return Message{}, false
		}
	}
}

// WorkAvailable reports whether there is a pending accept or a non-empty
// receive queue, the Go analogue of loop.c's _work_available.
func (b *Bus) WorkAvailable() bool {
	select {
	case conn := <-b.acceptSlot:
		// put it back; this is a peek, not a consume
		select {
		case b.acceptSlot <- conn:
		default:
		}
		return true
	default:
	}
	b.recvMu.Lock()
	defer b.recvMu.Unlock()
	return len(b.recvQ) > 0
}

// Close shuts down every port's connection and listener.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	for _, l := range b.listeners {
		l.Close()
	}
	b.portsMu.Lock()
	for _, p := range b.ports {
		if p != nil {
			p.conn.Close()
		}
	}
	b.portsMu.Unlock()
}
