// Package buffer implements the growable byte buffer and bounded pool used
// to stage message frames for the bus, grounded on original_source/pack.h's
// struct buffer and struct buffer_pool.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when an Unpack* call would read past the end
// of the valid data. pkg/wire wraps this as wire.ErrMalformed at its
// boundary rather than this package importing wire, to avoid a cycle
// (wire's message codecs build on top of Buffer).
var ErrShortBuffer = errors.New("buffer: read past end")

// Buffer is a growable byte buffer with an independent read/write cursor,
// mirroring struct buffer's (memsize, buf, size, pos) fields. size is the
// logical length of valid data; pos is the cursor used by both pack
// (append, growing the backing array by doubling) and unpack (bounds
// checked read).
type Buffer struct {
	buf []byte
	pos int
}

// New returns a Buffer with the given initial capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// Reset empties the buffer and rewinds the cursor, without releasing the
// backing array — the same "reuse, don't reallocate" intent as the
// original's pool recycling.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
}

// Len returns the number of valid bytes currently stored.
func (b *Buffer) Len() int { return len(b.buf) }

// Cap returns the current backing capacity.
func (b *Buffer) Cap() int { return cap(b.buf) }

// Pos returns the current cursor position.
func (b *Buffer) Pos() int { return b.pos }

// Bytes returns the valid portion of the backing array.
func (b *Buffer) Bytes() []byte { return b.buf }

// Grow ensures the backing array can hold at least n more bytes, doubling
// capacity as needed, per pack.h's grow-by-doubling pack semantics.
func (b *Buffer) Grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = 64
	}
	for newCap-len(b.buf) < n {
		newCap *= 2
	}
	nb := make([]byte, len(b.buf), newCap)
	copy(nb, b.buf)
	b.buf = nb
}

// PackBytes appends raw bytes, growing as necessary.
func (b *Buffer) PackBytes(p []byte) {
	b.Grow(len(p))
	b.buf = append(b.buf, p...)
}

// PackU8/PackU16/PackU32/PackU64 append a fixed-width little-endian integer.
func (b *Buffer) PackU8(v uint8) { b.PackBytes([]byte{v}) }

func (b *Buffer) PackU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.PackBytes(tmp[:])
}

func (b *Buffer) PackU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.PackBytes(tmp[:])
}

func (b *Buffer) PackU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.PackBytes(tmp[:])
}

// PackString appends a length-prefixed string: a uint64 length, counting
// the trailing NUL this encoding always appends, followed by the bytes
// and that NUL. Matches spec.md §6's wire string encoding exactly
// (original_source's strings are always NUL-terminated C strings; the
// length there is `strlen(s)+1`).
func (b *Buffer) PackString(s string) {
	b.PackU64(uint64(len(s)) + 1)
	b.PackBytes([]byte(s))
	b.PackU8(0)
}

// PackStringSlice appends a length-prefixed slice of length-prefixed strings.
func (b *Buffer) PackStringSlice(ss []string) {
	b.PackU32(uint32(len(ss)))
	for _, s := range ss {
		b.PackString(s)
	}
}

// PackI32Slice appends a length-prefixed slice of int32s.
func (b *Buffer) PackI32Slice(vs []int32) {
	b.PackU32(uint32(len(vs)))
	for _, v := range vs {
		b.PackU32(uint32(v))
	}
}

// UnpackBytes reads n bytes from the cursor, advancing it.
func (b *Buffer) UnpackBytes(n int) ([]byte, error) {
	if b.pos+n > len(b.buf) {
		return nil, fmt.Errorf("%w", ErrShortBuffer)
	}
	out := b.buf[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

func (b *Buffer) UnpackU8() (uint8, error) {
	p, err := b.UnpackBytes(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) UnpackU16() (uint16, error) {
	p, err := b.UnpackBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) UnpackU32() (uint32, error) {
	p, err := b.UnpackBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) UnpackU64() (uint64, error) {
	p, err := b.UnpackBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// UnpackString reverses PackString: reads the uint64 NUL-inclusive
// length, then the bytes, then drops the trailing NUL.
func (b *Buffer) UnpackString() (string, error) {
	n, err := b.UnpackU64()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: zero-length string missing trailing NUL", ErrShortBuffer)
	}
	p, err := b.UnpackBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p[:len(p)-1]), nil
}

func (b *Buffer) UnpackStringSlice() ([]string, error) {
	n, err := b.UnpackU32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := b.UnpackString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *Buffer) UnpackI32Slice() ([]int32, error) {
	n, err := b.UnpackU32()
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := b.UnpackU32()
		if err != nil {
			return nil, err
		}
		out = append(out, int32(v))
	}
	return out, nil
}
