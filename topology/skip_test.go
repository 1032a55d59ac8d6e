package topology

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func skipIfUnsupported(t *testing.T, err error) bool {
	t.Helper()
	if errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EPROTONOSUPPORT) {
		t.Skipf("TIPC not supported on this kernel: %v", err)
		return true
	}
	return false
}
