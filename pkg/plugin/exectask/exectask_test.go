package exectask

import (
	"context"
	"testing"
)

func TestLocalAndOtherRunTheSameCommand(t *testing.T) {
	p := New()

	ret, err := p.Local(context.Background(), []string{"/bin/true"})
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	if ret != 0 {
		t.Fatalf("expected exit 0, got %d", ret)
	}

	ret, err = p.Other(context.Background(), []string{"/bin/false"})
	if err != nil {
		t.Fatalf("Other: %v", err)
	}
	if ret == 0 {
		t.Fatal("expected a non-zero exit code from /bin/false")
	}
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	p := New()
	if _, err := p.run(context.Background(), nil); err == nil {
		t.Fatal("expected an error for an empty argv")
	}
}
