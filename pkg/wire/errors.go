// Package wire implements the length-prefixed binary frame codec used to
// exchange messages between the root and every agent in the tree.
package wire

import "errors"

// Sentinel errors, the idiomatic Go replacement for the negative-errno
// taxonomy (Invalid, NoMem, NotFound, Malformed, Timeout, Io, NotImplemented,
// Fault) described in the error handling design. NoMem has no equivalent
// here: Go's allocator does not surface allocation failure as a return
// value the way the C allocator wrapper it was modeled on did.
var (
	ErrInvalid         = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrMalformed       = errors.New("malformed frame")
	ErrTimeout         = errors.New("timed out")
	ErrIO              = errors.New("i/o error")
	ErrNotImplemented  = errors.New("not implemented")
	ErrFault           = errors.New("internal fault")
	ErrQueueFull       = errors.New("queue full")
	ErrProtocolMismatch = errors.New("protocol version mismatch")
)
