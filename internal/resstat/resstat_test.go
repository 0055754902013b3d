package resstat

import (
	"os"
	"testing"
)

func TestReadRejectsNonPositivePID(t *testing.T) {
	if _, ok := Read(0); ok {
		t.Fatal("expected Read(0) to report not-ok")
	}
	if _, ok := Read(-1); ok {
		t.Fatal("expected Read(-1) to report not-ok")
	}
}

func TestReadOnBogusPIDFails(t *testing.T) {
	if _, ok := Read(1 << 30); ok {
		t.Fatal("expected Read on a nonexistent PID to report not-ok")
	}
}

func TestReadOnOwnProcess(t *testing.T) {
	sample, ok := Read(os.Getpid())
	if !ok {
		t.Fatal("expected Read on the test binary's own PID to succeed")
	}
	if sample.RSSBytes == 0 {
		t.Fatal("expected a nonzero RSS for the running test process")
	}
}
