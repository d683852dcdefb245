package job

import (
	"github.com/kraused/treecast/pkg/buffer"
	"github.com/kraused/treecast/pkg/wire"
)

type packable interface {
	Pack(b *buffer.Buffer)
}

// encode builds a framed message, returning the raw payload bytes and a
// populated Header ready to hand to bus.Message — the job package's jobs
// never touch wire.EncodeFrame's combined-buffer form directly since
// bus.Message keeps header and payload separate.
func encode(typ uint16, msg packable, src, dst uint16, broadcast bool) (payload []byte, header wire.Header, err error) {
	b := buffer.New(64)
	msg.Pack(b)
	flags := wire.FlagUnicast
	if broadcast {
		flags = wire.FlagBroadcast
	}
	header = wire.Header{
		Src:     src,
		Dst:     dst,
		Flags:   flags,
		Type:    typ,
		Payload: uint32(b.Len()),
	}
	payload = append([]byte(nil), b.Bytes()...)
	return payload, header, nil
}
