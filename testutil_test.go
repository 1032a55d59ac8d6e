package tipc

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// skipIfUnsupported skips the test when the running kernel has no TIPC
// support (AF_TIPC unknown, or the tipc module isn't loaded), rather than
// failing: these tests exercise real sockets and are only meaningful on
// a host where TIPC is available.
func skipIfUnsupported(t *testing.T, err error) bool {
	t.Helper()
	if errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EPROTONOSUPPORT) {
		t.Skipf("TIPC not supported on this kernel: %v", err)
		return true
	}
	return false
}
