// Package overlay implements the Linear Forwarding Table and listen/port
// bookkeeping described in spec.md §4.3, grounded field-for-field on
// original_source/network.h and network.c.
package overlay

import (
	"fmt"
	"sync"

	"github.com/kraused/treecast/pkg/wire"
)

// Unknown is the LFT sentinel value for "no route known yet", mirroring
// the original's -1 convention.
const Unknown int32 = -1

// Network holds this node's Linear Forwarding Table and the set of open
// ports (connections) and listening sockets it routes across. here is this
// node's own participant id; lft must never be indexed by here when
// sending — messages addressed to self are delivered locally, never
// routed through a port.
type Network struct {
	mu sync.Mutex

	here  int32
	size  int32
	lft   []int32 // participant id -> port index, or Unknown
	ports []int   // port index -> file descriptor

	listenFDs []int
}

// New constructs a Network for a node that doesn't yet know the overlay
// size (size is set later via Resize).
func New(here int32) *Network {
	return &Network{here: here}
}

// Here returns this node's participant id.
func (n *Network) Here() int32 { return n.here }

// Size returns the overlay size, or 0 if not yet resized.
func (n *Network) Size() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

// Resize allocates the LFT for an overlay of the given size, filling every
// entry with Unknown. Per network.c, resizing twice is not supported (the
// original implementation has no use case for shrinking or regrowing the
// overlay mid-run, and neither does this one).
func (n *Network) Resize(size int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.size != 0 {
		return fmt.Errorf("%w: network already sized", wire.ErrNotImplemented)
	}
	n.size = size
	n.lft = make([]int32, size)
	for i := range n.lft {
		n.lft[i] = Unknown
	}
	return nil
}

// AddListenFDs records new listening-socket file descriptors. Does not
// touch the LFT.
func (n *Network) AddListenFDs(fds []int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listenFDs = append(n.listenFDs, fds...)
}

// ListenFDs returns a snapshot of the current listening-socket fds.
func (n *Network) ListenFDs() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int, len(n.listenFDs))
	copy(out, n.listenFDs)
	return out
}

// AddPorts appends new connection file descriptors as ports, without
// touching the LFT (routes to those ports are installed separately via
// ModifyLFT once the handshake that owns them completes).
func (n *Network) AddPorts(fds []int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	start := len(n.ports)
	n.ports = append(n.ports, fds...)
	return start
}

// Ports returns a snapshot of the current port file descriptors.
func (n *Network) Ports() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int, len(n.ports))
	copy(out, n.ports)
	return out
}

// PortFD returns the file descriptor for port index idx.
func (n *Network) PortFD(idx int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if idx < 0 || idx >= len(n.ports) {
		return 0, fmt.Errorf("%w: port index out of range", wire.ErrInvalid)
	}
	return n.ports[idx], nil
}

// InitializeLFT sets every participant's route to the single given port,
// used right after the join handshake on a freshly spawned agent: before
// the bus and job engine start, everything is routed via port 0 (the
// parent), per spec.md §4.9.
func (n *Network) InitializeLFT(port int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if port < 0 || port >= len(n.ports) {
		return fmt.Errorf("%w: port out of range", wire.ErrInvalid)
	}
	for i := range n.lft {
		n.lft[i] = int32(port)
	}
	return nil
}

// ModifyLFT installs port as the route for each of the given participant
// ids. Must be called while the bus is paused, per the pause protocol in
// spec.md §5.
func (n *Network) ModifyLFT(ids []int32, port int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if port < 0 || port >= len(n.ports) {
		return fmt.Errorf("%w: port out of range", wire.ErrInvalid)
	}
	for _, id := range ids {
		if id < 0 || int(id) >= len(n.lft) {
			return fmt.Errorf("%w: participant id out of range", wire.ErrInvalid)
		}
		n.lft[id] = int32(port)
	}
	return nil
}

// Route returns the port index for dst, or Unknown if no route is known.
// Callers must never call Route(n.here) to decide how to send to
// themselves — self-addressed messages are delivered locally.
func (n *Network) Route(dst int32) int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if dst < 0 || int(dst) >= len(n.lft) {
		return Unknown
	}
	return n.lft[dst]
}

// NumPorts reports how many ports are currently open.
func (n *Network) NumPorts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ports)
}

// DebugPrintLFT renders the table the way the original's
// network_debug_print_lft does — one line per id with its port and a
// self marker; port file descriptors are not shown — used only for
// diagnostics.
func (n *Network) DebugPrintLFT() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := fmt.Sprintf("LFT for participant %d (size %d):\n", n.here, n.size)
	for id, port := range n.lft {
		self := ""
		if int32(id) == n.here {
			self = " (self)"
		}
		s += fmt.Sprintf("  %5d -> port %5d%s\n", id, port, self)
	}
	return s
}
