package options

import (
	"strings"
	"testing"

	"github.com/kraused/treecast/pkg/buffer"
)

func TestPoolOverwriteOnDuplicateKey(t *testing.T) {
	p := NewPool()
	p.Set("TreeWidth", "4")
	p.Set("TreeWidth", "8")
	v, ok := p.Find("TreeWidth")
	if !ok || v != "8" {
		t.Fatalf("expected overwritten value 8, got %q ok=%v", v, ok)
	}
	if len(p.Keys()) != 1 {
		t.Fatalf("expected single key after overwrite, got %v", p.Keys())
	}
}

func TestParseArgvStopsAtDoubleDash(t *testing.T) {
	p := NewPool()
	argv := []string{"-o", "TreeWidth=4", "--", "-o", "TreeWidth=999"}
	if err := p.ParseArgv(argv); err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, _ := p.Find("TreeWidth")
	if v != "4" {
		t.Fatalf("expected TreeWidth=4 (stopped before --), got %q", v)
	}
}

func TestParseFileThenArgvOverride(t *testing.T) {
	p := NewPool()
	if err := p.ParseFile(strings.NewReader("TreeWidth=2\nExecPlugin=local\n")); err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if err := p.ParseArgv([]string{"-o", "TreeWidth=16"}); err != nil {
		t.Fatalf("parse argv: %v", err)
	}
	v, _ := p.Find("TreeWidth")
	if v != "16" {
		t.Fatalf("expected argv override to win, got %q", v)
	}
	v, _ = p.Find("ExecPlugin")
	if v != "local" {
		t.Fatalf("expected file value preserved, got %q", v)
	}
}

func TestPoolWireRoundTrip(t *testing.T) {
	p := NewPool()
	p.Set("Hosts", "a,b,c")
	p.Set("TreeWidth", "4")

	b := buffer.New(128)
	p.Pack(b)

	got, err := Unpack(b)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if v, _ := got.Find("Hosts"); v != "a,b,c" {
		t.Fatalf("expected Hosts=a,b,c, got %q", v)
	}
	if v, _ := got.Find("TreeWidth"); v != "4" {
		t.Fatalf("expected TreeWidth=4, got %q", v)
	}
}

func TestUnmarshalEnvDefaultsAndOverrides(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil, false); err != nil {
		t.Fatalf("unmarshal defaults: %v", err)
	}
	if c.TreeWidth != 32 {
		t.Fatalf("expected default TreeWidth 32, got %d", c.TreeWidth)
	}
	if c.ExecPlugin != "local" {
		t.Fatalf("expected default ExecPlugin \"local\", got %q", c.ExecPlugin)
	}

	c = Config{}
	if err := c.UnmarshalEnv([]string{"TREECAST_TREE_WIDTH=4", "TREECAST_HOSTS=h1,h2"}, false); err != nil {
		t.Fatalf("unmarshal overrides: %v", err)
	}
	if c.TreeWidth != 4 {
		t.Fatalf("expected TreeWidth 4, got %d", c.TreeWidth)
	}
	if len(c.Hosts) != 2 || c.Hosts[0] != "h1" {
		t.Fatalf("expected hosts [h1 h2], got %v", c.Hosts)
	}
}

func TestUnmarshalEnvRejectsUnknownKey(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv([]string{"TREECAST_NOT_A_REAL_OPTION=1"}, false); err == nil {
		t.Fatal("expected error for unknown environment variable")
	}
}
