package buffer

import "testing"

func TestPackStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", "hello world", "participant-17"}
	for _, s := range cases {
		b := New(16)
		b.PackString(s)
		got, err := b.UnpackString()
		if err != nil {
			t.Fatalf("UnpackString(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("round-trip mismatch: got %q, want %q", got, s)
		}
	}
}

func TestPackStringWireLength(t *testing.T) {
	// spec.md §6: strings are a u64 length (including the trailing NUL)
	// followed by the bytes — 8 bytes of length prefix plus len(s)+1
	// bytes of payload.
	s := "hello"
	b := New(16)
	b.PackString(s)
	want := 8 + len(s) + 1
	if b.Len() != want {
		t.Fatalf("encoded length = %d, want %d", b.Len(), want)
	}
}

func TestPackStringSliceRoundTrip(t *testing.T) {
	in := []string{"one", "two", "three"}
	b := New(32)
	b.PackStringSlice(in)
	out, err := b.UnpackStringSlice()
	if err != nil {
		t.Fatalf("UnpackStringSlice: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d strings, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("index %d: got %q, want %q", i, out[i], in[i])
		}
	}
}
