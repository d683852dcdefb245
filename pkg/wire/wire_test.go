package wire

import (
	"testing"

	"github.com/kraused/treecast/pkg/buffer"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Src: 1, Dst: 2, Flags: FlagBroadcast, Type: TypePing, Channel: 3, Payload: 8}
	var tmp [HeaderSize]byte
	if err := PackHeader(tmp[:], &h); err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, err := UnpackHeader(tmp[:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestUnpackHeaderRejectsZeroPayload(t *testing.T) {
	h := Header{Type: TypePing, Payload: 0}
	var tmp [HeaderSize]byte
	PackHeader(tmp[:], &h)
	if _, err := UnpackHeader(tmp[:]); err == nil {
		t.Fatal("expected error for zero-length payload")
	}
}

func TestEncodeDecodeRequestJoin(t *testing.T) {
	msg := &RequestJoin{PID: 42, IP: 0x7f000001, Port: 9000, ProtocolVersion: "v1.0.0"}
	b := buffer.New(64)
	header := Header{Src: 0, Dst: 0, Type: TypeRequestJoin}
	if err := EncodeFrame(b, header, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}

	hdr, err := UnpackHeader(b.Bytes()[:HeaderSize])
	if err != nil {
		t.Fatalf("unpack header: %v", err)
	}
	if int(hdr.Payload) != b.Len()-HeaderSize {
		t.Fatalf("payload size mismatch: header says %d, actual %d", hdr.Payload, b.Len()-HeaderSize)
	}

	body := buffer.New(len(b.Bytes()) - HeaderSize)
	body.PackBytes(b.Bytes()[HeaderSize:])
	decoded, err := DecodeMessage(hdr, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(*RequestJoin)
	if !ok {
		t.Fatalf("wrong type: %T", decoded)
	}
	if got.PID != msg.PID || got.IP != msg.IP || got.Port != msg.Port || got.ProtocolVersion != msg.ProtocolVersion {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestEncodeDecodeRequestBuildTree(t *testing.T) {
	msg := &RequestBuildTree{Hosts: []int32{3, 4, 5}}
	b := buffer.New(64)
	if err := EncodeFrame(b, Header{Type: TypeRequestBuildTree}, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	hdr, err := UnpackHeader(b.Bytes()[:HeaderSize])
	if err != nil {
		t.Fatalf("unpack header: %v", err)
	}
	body := buffer.New(len(b.Bytes()) - HeaderSize)
	body.PackBytes(b.Bytes()[HeaderSize:])
	decoded, err := DecodeMessage(hdr, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.(*RequestBuildTree)
	if len(got.Hosts) != 3 || got.Hosts[0] != 3 || got.Hosts[2] != 5 {
		t.Fatalf("unexpected hosts: %v", got.Hosts)
	}
}
