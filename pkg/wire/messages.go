package wire

import (
	"errors"
	"fmt"

	"github.com/kraused/treecast/pkg/buffer"
)

func wrapShort(err error) error {
	if errors.Is(err, buffer.ErrShortBuffer) {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return err
}

// RequestJoin is sent by a freshly spawned agent to its parent, per
// spec.md §4.1. ProtocolVersion is the SPEC_FULL §6 addition used to fail
// a mismatched root/agent build fast instead of hitting a malformed frame
// downstream.
type RequestJoin struct {
	PID             uint32
	IP              uint32
	Port            uint32
	ProtocolVersion string
}

func (m *RequestJoin) Pack(b *buffer.Buffer) {
	b.PackU32(m.PID)
	b.PackU32(m.IP)
	b.PackU32(m.Port)
	b.PackString(m.ProtocolVersion)
}

func UnpackRequestJoin(b *buffer.Buffer) (*RequestJoin, error) {
	var m RequestJoin
	var err error
	if m.PID, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	if m.IP, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	if m.Port, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	if m.ProtocolVersion, err = b.UnpackString(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// ResponseJoin is sent back to a newly joined agent; Opts carries the
// wire-encoded option pool (see pkg/options for Pack/Unpack).
type ResponseJoin struct {
	Addr            uint32
	Opts            []byte
	ProtocolVersion string
}

func (m *ResponseJoin) Pack(b *buffer.Buffer) {
	b.PackU32(m.Addr)
	b.PackU32(uint32(len(m.Opts)))
	b.PackBytes(m.Opts)
	b.PackString(m.ProtocolVersion)
}

func UnpackResponseJoin(b *buffer.Buffer) (*ResponseJoin, error) {
	var m ResponseJoin
	var err error
	if m.Addr, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	n, err := b.UnpackU32()
	if err != nil {
		return nil, wrapShort(err)
	}
	if m.Opts, err = b.UnpackBytes(int(n)); err != nil {
		return nil, wrapShort(err)
	}
	m.Opts = append([]byte(nil), m.Opts...)
	if m.ProtocolVersion, err = b.UnpackString(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// Ping carries the sender's local clock, used to feed the (external)
// watchdog on receipt.
type Ping struct {
	Now uint64
}

func (m *Ping) Pack(b *buffer.Buffer) { b.PackU64(m.Now) }

func UnpackPing(b *buffer.Buffer) (*Ping, error) {
	var m Ping
	var err error
	if m.Now, err = b.UnpackU64(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// RequestExec asks the local exec worker pool (or, for a relayed request,
// the remote node identified implicitly by routing) to launch a new agent.
type RequestExec struct {
	Host string
	Argv []string
}

func (m *RequestExec) Pack(b *buffer.Buffer) {
	b.PackString(m.Host)
	b.PackStringSlice(m.Argv)
}

func UnpackRequestExec(b *buffer.Buffer) (*RequestExec, error) {
	var m RequestExec
	var err error
	if m.Host, err = b.UnpackString(); err != nil {
		return nil, wrapShort(err)
	}
	if m.Argv, err = b.UnpackStringSlice(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// RequestBuildTree carries a child's sub-slice of participant ids to build
// a subtree over.
type RequestBuildTree struct {
	Hosts []int32
}

func (m *RequestBuildTree) Pack(b *buffer.Buffer) { b.PackI32Slice(m.Hosts) }

func UnpackRequestBuildTree(b *buffer.Buffer) (*RequestBuildTree, error) {
	var m RequestBuildTree
	var err error
	if m.Hosts, err = b.UnpackI32Slice(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// ResponseBuildTree reports the number of children declared Dead while
// building the subtree, propagated upward per spec.md §9's redesign note.
type ResponseBuildTree struct {
	Deads uint32
}

func (m *ResponseBuildTree) Pack(b *buffer.Buffer) { b.PackU32(m.Deads) }

func UnpackResponseBuildTree(b *buffer.Buffer) (*ResponseBuildTree, error) {
	var m ResponseBuildTree
	var err error
	if m.Deads, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// RequestTask broadcasts the task plugin invocation to every participant.
type RequestTask struct {
	Path    string
	Argv    []string
	Channel uint32
}

func (m *RequestTask) Pack(b *buffer.Buffer) {
	b.PackString(m.Path)
	b.PackStringSlice(m.Argv)
	b.PackU32(m.Channel)
}

func UnpackRequestTask(b *buffer.Buffer) (*RequestTask, error) {
	var m RequestTask
	var err error
	if m.Path, err = b.UnpackString(); err != nil {
		return nil, wrapShort(err)
	}
	if m.Argv, err = b.UnpackStringSlice(); err != nil {
		return nil, wrapShort(err)
	}
	if m.Channel, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// ResponseTask reports the task plugin's return code.
type ResponseTask struct {
	Ret uint32
}

func (m *ResponseTask) Pack(b *buffer.Buffer) { b.PackU32(m.Ret) }

func UnpackResponseTask(b *buffer.Buffer) (*ResponseTask, error) {
	var m ResponseTask
	var err error
	if m.Ret, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// RequestExit asks a participant to finish any pending task and exit.
type RequestExit struct {
	Signum uint32
}

func (m *RequestExit) Pack(b *buffer.Buffer) { b.PackU32(m.Signum) }

func UnpackRequestExit(b *buffer.Buffer) (*RequestExit, error) {
	var m RequestExit
	var err error
	if m.Signum, err = b.UnpackU32(); err != nil {
		return nil, wrapShort(err)
	}
	return &m, nil
}

// ResponseExit carries no fields; its presence alone acks the exit.
type ResponseExit struct{}

func (m *ResponseExit) Pack(b *buffer.Buffer) { b.PackU8(0) }

func UnpackResponseExit(b *buffer.Buffer) (*ResponseExit, error) {
	if _, err := b.UnpackU8(); err != nil {
		return nil, wrapShort(err)
	}
	return &ResponseExit{}, nil
}
