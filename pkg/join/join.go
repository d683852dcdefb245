// Package join implements the one-shot synchronous join handshake (C9):
// a freshly spawned agent connects to its parent, exchanges REQUEST_JOIN /
// RESPONSE_JOIN, and comes out the other side with port 0 wired to the
// parent and its LFT initialized — all before the bus or job engine start.
// Grounded on original_source/main.c's _join / _connect_to_parent /
// _send_join_request / _recv_join_response, and the parent-side accept
// handling job.c's _build_tree_work folds into REQUEST_JOIN processing.
package join

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/mod/semver"

	"github.com/kraused/treecast/pkg/options"
	"github.com/kraused/treecast/pkg/overlay"
	"github.com/kraused/treecast/pkg/wire"
)

// compatible reports whether two protocol version strings are close
// enough to talk to each other: same major.minor, per SPEC_FULL §6 — a
// patch-level mismatch between root and agent builds is expected during
// a rolling upgrade and should not fail the join.
func compatible(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return a == b
	}
	return semver.MajorMinor(a) == semver.MajorMinor(b)
}

// Result is what a successful client-side Join hands back to the caller
// so it can finish constructing its Network/Bus.
type Result struct {
	Conn     net.Conn
	Addr     uint32 // this node's assigned participant id, echoed back by the parent
	Opts     *options.Pool
	SelfIP   uint32
	SelfPort uint32
}

// Dial connects to the parent at addr, sends REQUEST_JOIN for participant
// "here", and blocks for RESPONSE_JOIN, the Go analogue of _join. protoVer
// is this binary's SPEC_FULL §6 protocol version string, checked against
// the parent's own to fail a mismatched build fast.
func Dial(addr string, here int32, protoVer string, timeout time.Duration) (*Result, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to parent: %w", wire.ErrIO)
	}

	selfIP, selfPort, err := addrToIPPort(conn.LocalAddr())
	if err != nil {
		conn.Close()
		return nil, err
	}

	req := &wire.RequestJoin{PID: uint32(os.Getpid()), IP: selfIP, Port: selfPort, ProtocolVersion: protoVer}
	if err := writeFrame(conn, wire.Header{Src: uint16(here), Dst: 0, Flags: wire.FlagUnicast, Type: wire.TypeRequestJoin}, req); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	resp, err := wire.UnpackResponseJoin(bufferFrom(payload))
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !compatible(resp.ProtocolVersion, protoVer) {
		conn.Close()
		return nil, fmt.Errorf("%w: root speaks protocol %q, agent speaks %q", wire.ErrProtocolMismatch, resp.ProtocolVersion, protoVer)
	}
	if resp.Addr != uint32(here) {
		conn.Close()
		return nil, fmt.Errorf("%w: parent echoed addr %d, expected %d", wire.ErrInvalid, resp.Addr, here)
	}

	opts, err := options.UnpackBytes(resp.Opts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Result{Conn: conn, Addr: resp.Addr, Opts: opts, SelfIP: selfIP, SelfPort: selfPort}, nil
}

// InstallAsParentPort wires conn in as port 0 on net and routes every
// participant through it, the state a freshly joined agent starts its bus
// and job engine in.
func InstallAsParentPort(n *overlay.Network) error {
	n.AddPorts([]int{0})
	return n.InitializeLFT(0)
}

// Accept matches an arriving connection against the REQUEST_JOIN it sent,
// the Go analogue of job.c's REQUEST_JOIN handling: read the request,
// verify the protocol version, send RESPONSE_JOIN carrying the option
// pool and the child's assigned id.
func Accept(conn net.Conn, childID int32, protoVer string, opts *options.Pool, timeout time.Duration) (*wire.RequestJoin, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	header, payload, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})
	if header.Type != wire.TypeRequestJoin {
		return nil, fmt.Errorf("%w: expected REQUEST_JOIN, got type %d", wire.ErrMalformed, header.Type)
	}
	req, err := wire.UnpackRequestJoin(bufferFrom(payload))
	if err != nil {
		return nil, err
	}
	if !compatible(req.ProtocolVersion, protoVer) {
		return nil, fmt.Errorf("%w: child speaks protocol %q, parent speaks %q", wire.ErrProtocolMismatch, req.ProtocolVersion, protoVer)
	}

	resp := &wire.ResponseJoin{Addr: uint32(childID), Opts: opts.PackBytes(), ProtocolVersion: protoVer}
	if err := writeFrame(conn, wire.Header{Src: 0, Dst: uint16(childID), Flags: wire.FlagUnicast, Type: wire.TypeResponseJoin}, resp); err != nil {
		return nil, err
	}
	return req, nil
}

// addrToIPPort converts a dialed connection's local address into the
// wire's ip/port uint32 fields, the Go analogue of _send_join_request's
// call into sockaddr(). IPv4-only, matching the original's sockaddr_in use.
func addrToIPPort(addr net.Addr) (ip, port uint32, err error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return 0, 0, fmt.Errorf("%w: non-TCP local address %v", wire.ErrInvalid, addr)
	}
	v4 := tcpAddr.IP.To4()
	if v4 == nil {
		return 0, 0, fmt.Errorf("%w: non-IPv4 local address %v", wire.ErrInvalid, addr)
	}
	ip = binary.BigEndian.Uint32(v4)
	port = uint32(tcpAddr.Port)
	return ip, port, nil
}
