package join

import (
	"io"
	"net"

	"github.com/kraused/treecast/pkg/buffer"
	"github.com/kraused/treecast/pkg/wire"
)

type packable interface {
	Pack(b *buffer.Buffer)
}

// writeFrame packs header+msg and writes the resulting frame to conn in
// one call, mirroring _send_join_request's pack_message + single write.
func writeFrame(conn net.Conn, header wire.Header, msg packable) error {
	b := buffer.New(64)
	if err := wire.EncodeFrame(b, header, msg); err != nil {
		return err
	}
	_, err := conn.Write(b.Bytes())
	return err
}

// readFrame reads one header+payload frame off conn.
func readFrame(conn net.Conn) (wire.Header, []byte, error) {
	var hdrBuf [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
		return wire.Header{}, nil, wire.ErrIO
	}
	header, err := wire.UnpackHeader(hdrBuf[:])
	if err != nil {
		return wire.Header{}, nil, err
	}
	payload := make([]byte, header.Payload)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return wire.Header{}, nil, wire.ErrIO
	}
	return header, payload, nil
}

// bufferFrom wraps a received payload slice in a buffer.Buffer positioned
// at its start, ready for the wire package's UnpackX constructors. Pack
// only appends to the backing array and never touches the unpack cursor,
// so the result reads back from offset 0, the same trick
// options.UnpackBytes uses.
func bufferFrom(payload []byte) *buffer.Buffer {
	b := buffer.New(len(payload))
	b.PackBytes(payload)
	return b
}
