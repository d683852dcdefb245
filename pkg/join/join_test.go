package join

import (
	"net"
	"testing"
	"time"

	"github.com/kraused/treecast/pkg/options"
)

func testOptionsPool() *options.Pool {
	p := options.NewPool()
	p.Set("TreeWidth", "4")
	return p
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"", "v1.0.0", true},
		{"v1.0.0", "v1.0.0", true},
		{"v1.0.0", "v1.0.3", true},
		{"v1.0.0", "v1.1.0", false},
		{"v1.0.0", "v2.0.0", false},
		{"not-semver", "not-semver", true},
		{"not-semver", "v1.0.0", false},
	}
	for _, c := range cases {
		if got := compatible(c.a, c.b); got != c.want {
			t.Errorf("compatible(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestAddrToIPPort(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ip, port, err := addrToIPPort(conn.LocalAddr())
	if err != nil {
		t.Fatalf("addrToIPPort: %v", err)
	}
	if ip == 0 {
		t.Fatal("expected a non-zero loopback IP")
	}
	if port == 0 {
		t.Fatal("expected a non-zero ephemeral port")
	}
}

func TestJoinHandshakeOverTCP(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	opts := testOptionsPool()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		_, err = Accept(conn, 3, "v1.2.0", opts, time.Second)
		serverErr <- err
	}()

	res, err := Dial(l.Addr().String(), 3, "v1.2.3", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer res.Conn.Close()

	if res.Addr != 3 {
		t.Fatalf("expected assigned addr 3, got %d", res.Addr)
	}
	if _, ok := res.Opts.Find("TreeWidth"); !ok {
		t.Fatal("expected the option pool to survive the round trip")
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("Accept: %v", err)
	}
}

func TestJoinHandshakeRejectsMismatchedMajorVersion(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	opts := testOptionsPool()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		_, err = Accept(conn, 3, "v1.0.0", opts, time.Second)
		serverErr <- err
	}()

	_, err = Dial(l.Addr().String(), 3, "v2.0.0", time.Second)
	if err == nil {
		t.Fatal("expected a protocol mismatch error")
	}
	<-serverErr
}

func TestJoinHandshakeRejectsMismatchedEchoedAddr(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	opts := testOptionsPool()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		// Accept echoes back childID 5 while Dial below believes it is
		// joining as participant 3 — a mismatch the parent-is-confused
		// or NAT-hairpinned-peer scenario this check exists to catch.
		_, err = Accept(conn, 5, "v1.0.0", opts, time.Second)
		serverErr <- err
	}()

	_, err = Dial(l.Addr().String(), 3, "v1.0.0", time.Second)
	if err == nil {
		t.Fatal("expected an error when the parent echoes back a different participant id")
	}
	<-serverErr
}

// InstallAsParentPort is exercised via pkg/node's agent construction path;
// it only wraps overlay.Network calls already covered by pkg/overlay's
// own tests.
