package overlay

import "testing"

func TestResizeTwiceFails(t *testing.T) {
	n := New(0)
	if err := n.Resize(4); err != nil {
		t.Fatalf("first resize: %v", err)
	}
	if err := n.Resize(4); err == nil {
		t.Fatal("expected second resize to fail")
	}
}

func TestInitializeLFTRoutesEverythingViaOnePort(t *testing.T) {
	n := New(1)
	if err := n.Resize(4); err != nil {
		t.Fatalf("resize: %v", err)
	}
	n.AddPorts([]int{11})
	if err := n.InitializeLFT(0); err != nil {
		t.Fatalf("initialize lft: %v", err)
	}
	for id := int32(0); id < 4; id++ {
		if got := n.Route(id); got != 0 {
			t.Fatalf("route(%d) = %d, want 0", id, got)
		}
	}
}

func TestModifyLFT(t *testing.T) {
	n := New(0)
	if err := n.Resize(5); err != nil {
		t.Fatalf("resize: %v", err)
	}
	n.AddPorts([]int{10, 11})
	if err := n.ModifyLFT([]int32{1, 2}, 0); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if err := n.ModifyLFT([]int32{3, 4}, 1); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if n.Route(1) != 0 || n.Route(2) != 0 {
		t.Fatal("expected ids 1,2 routed via port 0")
	}
	if n.Route(3) != 1 || n.Route(4) != 1 {
		t.Fatal("expected ids 3,4 routed via port 1")
	}
	if n.Route(0) != Unknown {
		t.Fatal("expected id 0 (self) to remain unknown until explicitly set")
	}
}

func TestModifyLFTRejectsOutOfRangePort(t *testing.T) {
	n := New(0)
	n.Resize(3)
	n.AddPorts([]int{10})
	if err := n.ModifyLFT([]int32{1}, 5); err == nil {
		t.Fatal("expected out-of-range port to fail")
	}
}
