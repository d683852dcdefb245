package wire

import (
	"fmt"

	"github.com/kraused/treecast/pkg/buffer"
)

// payload is implemented by every message type above.
type payload interface {
	Pack(b *buffer.Buffer)
}

// EncodeFrame packs header into b, followed by msg's payload, and patches
// header.Payload with the actual encoded payload size — the same
// "payload entry is ignored on entry, filled on exit" contract
// original_source/protocol.h documents for pack_message.
func EncodeFrame(b *buffer.Buffer, header Header, msg payload) error {
	b.Reset()
	var tmp [HeaderSize]byte
	if err := PackHeader(tmp[:], &header); err != nil {
		return err
	}
	b.PackBytes(tmp[:])
	before := b.Len()
	msg.Pack(b)
	header.Payload = uint32(b.Len() - before)
	// patch in place
	if err := PackHeader(b.Bytes()[:HeaderSize], &header); err != nil {
		return err
	}
	return nil
}

// DecodeMessage unpacks the message body appropriate for header.Type from
// b, which must be positioned right after the header (callers typically
// call b.UnpackBytes(HeaderSize) first, or construct a fresh Buffer over
// just the payload).
func DecodeMessage(header Header, b *buffer.Buffer) (interface{}, error) {
	switch header.Type {
	case TypeRequestJoin:
		return UnpackRequestJoin(b)
	case TypeResponseJoin:
		return UnpackResponseJoin(b)
	case TypePing:
		return UnpackPing(b)
	case TypeRequestExec:
		return UnpackRequestExec(b)
	case TypeRequestBuildTree:
		return UnpackRequestBuildTree(b)
	case TypeResponseBuildTree:
		return UnpackResponseBuildTree(b)
	case TypeRequestTask:
		return UnpackRequestTask(b)
	case TypeResponseTask:
		return UnpackResponseTask(b)
	case TypeRequestExit:
		return UnpackRequestExit(b)
	case TypeResponseExit:
		return UnpackResponseExit(b)
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformed, header.Type)
	}
}
