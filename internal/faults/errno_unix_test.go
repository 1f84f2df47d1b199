//go:build unix

package faults

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestClassifyBareErrno(t *testing.T) {
	for _, errno := range []error{unix.ECONNRESET, unix.EHOSTUNREACH, unix.EPIPE} {
		err := fmt.Errorf("write: %w", errno)
		if got := Classify(err); got != ClassNetworkUnavailable {
			t.Errorf("Classify(%v) = %s, want network_unavailable", err, got)
		}
	}
	if got := Classify(fmt.Errorf("open: %w", unix.ENOSPC)); got != ClassUnknown {
		t.Errorf("ENOSPC classified as %s, want unknown", got)
	}
}
