package node

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/klauspost/compress/zstd"

	"github.com/kraused/treecast/pkg/buffer"
	"github.com/kraused/treecast/pkg/wire"
)

// bufferFrom wraps a received payload slice for wire.DecodeMessage: Pack
// only appends to the backing array and never touches the unpack cursor,
// so the result reads back from offset 0.
func bufferFrom(payload []byte) *buffer.Buffer {
	b := buffer.New(len(payload))
	b.PackBytes(payload)
	return b
}

var zstdDecoder, _ = zstd.NewReader(nil)

// decompressIfNeeded reverses pkg/job's maybeCompress, the receiving end
// of SPEC_FULL §4's optional REQUEST_TASK payload compression.
func decompressIfNeeded(header wire.Header, payload []byte) ([]byte, error) {
	if !header.IsCompressed() {
		return payload, nil
	}
	return zstdDecoder.DecodeAll(payload, nil)
}

// localIPPort extracts this node's own listening address as the wire's
// ip/port uint32 fields, used to fill in REQUEST_EXEC argv so a spawned
// child knows where to dial back. IPv4-only, matching the original's
// sockaddr_in use.
func localIPPort(addr net.Addr) (ip, port uint32, err error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return 0, 0, fmt.Errorf("%w: non-TCP listen address %v", wire.ErrInvalid, addr)
	}
	v4 := tcpAddr.IP.To4()
	if v4 == nil {
		// Listening on an unspecified/IPv6 address: resolve the
		// outbound-facing IPv4 address instead, since 0.0.0.0 is not
		// something a remote spawn can dial back to.
		if resolved, rerr := outboundIPv4(); rerr == nil {
			return binary.BigEndian.Uint32(resolved), uint32(tcpAddr.Port), nil
		}
		return 0, 0, fmt.Errorf("%w: non-IPv4 listen address %v", wire.ErrInvalid, addr)
	}
	ip = binary.BigEndian.Uint32(v4)
	port = uint32(tcpAddr.Port)
	return ip, port, nil
}

// outboundIPv4 finds the IPv4 address this host would use to reach the
// network, by opening (and immediately discarding) a UDP "connection" --
// the standard no-syscall-privilege trick for "what's my routable IP".
func outboundIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}
