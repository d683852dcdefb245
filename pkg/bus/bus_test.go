package bus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kraused/treecast/pkg/overlay"
	"github.com/kraused/treecast/pkg/wire"
)

func pairedBuses(t *testing.T) (a, b *Bus, cleanup func()) {
	t.Helper()
	c1, c2 := net.Pipe()

	na := overlay.New(0)
	if err := na.Resize(2); err != nil {
		t.Fatal(err)
	}
	na.AddPorts([]int{0})
	na.ModifyLFT([]int32{1}, 0)

	nb := overlay.New(1)
	if err := nb.Resize(2); err != nil {
		t.Fatal(err)
	}
	nb.AddPorts([]int{0})
	nb.ModifyLFT([]int32{0}, 0)

	ba := New(na, 16, zerolog.Nop())
	bb := New(nb, 16, zerolog.Nop())

	ba.AddPort(0, c1)
	bb.AddPort(0, c2)

	ctx, cancel := context.WithCancel(context.Background())
	go ba.Run(ctx)
	go bb.Run(ctx)

	return ba, bb, func() {
		cancel()
		ba.Close()
		bb.Close()
	}
}

func TestBusUnicastDelivery(t *testing.T) {
	a, b, cleanup := pairedBuses(t)
	defer cleanup()

	err := a.Enqueue(Message{
		Header:  wire.Header{Src: 0, Dst: 1, Type: wire.TypePing},
		Payload: []byte("hello"),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msg, ok := b.Dequeue(2 * time.Second)
	if !ok {
		t.Fatal("expected message on b")
	}
	if string(msg.Payload) != "hello" {
		t.Fatalf("unexpected payload: %q", msg.Payload)
	}
}

func TestBusEnqueueFullReturnsError(t *testing.T) {
	na := overlay.New(0)
	na.Resize(1)
	b := New(na, 1, zerolog.Nop())
	// Don't run the dispatcher, so the queue never drains.
	if err := b.Enqueue(Message{Header: wire.Header{Type: wire.TypePing}}); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	if err := b.Enqueue(Message{Header: wire.Header{Type: wire.TypePing}}); err == nil {
		t.Fatal("expected second enqueue to report queue full")
	}
}

func TestDequeueTimesOutWhenEmpty(t *testing.T) {
	na := overlay.New(0)
	na.Resize(1)
	b := New(na, 16, zerolog.Nop())
	_, ok := b.Dequeue(50 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout with no message available")
	}
}
