package wire

import (
	"encoding/binary"
	"fmt"
)

// Message types. Numbered the way original_source/protocol.h numbers
// REQUEST_JOIN/RESPONSE_JOIN (1001/1002); the remaining types named in
// spec.md §4.1 are appended in the order that table lists them.
const (
	TypeRequestJoin = 1001 + iota
	TypeResponseJoin
	TypePing
	TypeRequestExec
	TypeRequestBuildTree
	TypeResponseBuildTree
	TypeRequestTask
	TypeResponseTask
	TypeRequestExit
	TypeResponseExit
)

// Flags.
const (
	FlagUnicast   uint16 = 0
	FlagBroadcast uint16 = 1
	// FlagCompressed marks a payload as zstd-compressed (SPEC_FULL §4's
	// optional REQUEST_TASK payload compression), independent of the
	// unicast/broadcast bit.
	FlagCompressed uint16 = 2
)

// HeaderSize is the packed, fixed-width size of Header in bytes:
// 6 uint16 fields (src, dst, flags, type, channel, pad) + 1 uint32 (payload).
const HeaderSize = 6*2 + 4

// Header is the fixed-width frame header prepended to every message.
// Field shape is carried over from original_source/protocol.h's
// struct message_header, which is declared __attribute__((packed)) there;
// Go achieves the same on-wire layout by packing/unpacking field-by-field
// rather than relying on struct layout.
type Header struct {
	Src     uint16 // participant id of the sender
	Dst     uint16 // participant id of the recipient; meaningless for broadcast
	Flags   uint16 // FlagUnicast or FlagBroadcast
	Type    uint16 // one of the Type* constants
	Channel uint16 // virtual channel, reserved via comm_resv_channel equivalent
	pad     uint16 // manual padding, mirroring the original's explicit pad16[1]
	Payload uint32 // payload size in bytes; must be > 0 per the buffer invariant
}

// PackHeader writes h into buf (which must be at least HeaderSize bytes)
// using little-endian byte order, per the endianness requirement tightened
// over the original's "mostly little endian" TODO.
func PackHeader(buf []byte, h *Header) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: header buffer too small", ErrInvalid)
	}
	binary.LittleEndian.PutUint16(buf[0:], h.Src)
	binary.LittleEndian.PutUint16(buf[2:], h.Dst)
	binary.LittleEndian.PutUint16(buf[4:], h.Flags)
	binary.LittleEndian.PutUint16(buf[6:], h.Type)
	binary.LittleEndian.PutUint16(buf[8:], h.Channel)
	binary.LittleEndian.PutUint16(buf[10:], 0)
	binary.LittleEndian.PutUint32(buf[12:], h.Payload)
	return nil
}

// UnpackHeader reads a Header from buf.
func UnpackHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("%w: short header", ErrMalformed)
	}
	h.Src = binary.LittleEndian.Uint16(buf[0:])
	h.Dst = binary.LittleEndian.Uint16(buf[2:])
	h.Flags = binary.LittleEndian.Uint16(buf[4:])
	h.Type = binary.LittleEndian.Uint16(buf[6:])
	h.Channel = binary.LittleEndian.Uint16(buf[8:])
	h.Payload = binary.LittleEndian.Uint32(buf[12:])
	if h.Payload == 0 {
		return h, fmt.Errorf("%w: zero-length payload", ErrMalformed)
	}
	return h, nil
}

// IsBroadcast reports whether h carries the broadcast flag.
func (h Header) IsBroadcast() bool { return h.Flags&FlagBroadcast != 0 }

// IsCompressed reports whether h's payload is zstd-compressed.
func (h Header) IsCompressed() bool { return h.Flags&FlagCompressed != 0 }

// IsJoinRequest reports whether h is a REQUEST_JOIN, judged by its Type
// alone; src and dst are not consulted.
func (h Header) IsJoinRequest() bool { return h.Type == TypeRequestJoin }
