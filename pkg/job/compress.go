package job

import (
	"github.com/klauspost/compress/zstd"

	"github.com/kraused/treecast/pkg/wire"
)

// compressThreshold is the smallest payload worth paying zstd's frame
// overhead for.
const compressThreshold = 256

var zstdEncoder, _ = zstd.NewWriter(nil)

// maybeCompress zstd-compresses payload and sets header's compressed flag
// when the TaskCompress option is enabled and payload clears
// compressThreshold, per SPEC_FULL §4's optional REQUEST_TASK payload
// compression. header.Payload is updated to the (possibly compressed)
// length so the frame codec stays consistent.
func maybeCompress(jc *Context, header *wire.Header, payload []byte) []byte {
	if jc.Opts == nil || len(payload) < compressThreshold {
		return payload
	}
	if v, ok := jc.Opts.Find("TaskCompress"); !ok || v != "true" {
		return payload
	}
	out := zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	header.Flags |= wire.FlagCompressed
	header.Payload = uint32(len(out))
	return out
}
