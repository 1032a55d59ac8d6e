//go:build linux

package tipc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// rawRecvmsg issues recvmsg(2) directly against fd with a caller-built
// Msghdr, bypassing both mdlayher/socket and unix.Recvmsg, neither of
// which can express TIPC's two-slot source/member name area (see
// Socket.recvMsg). It mirrors the teacher's own raw syscall.Syscall use
// in Conn.Recvmsg, just through golang.org/x/sys/unix's trap numbers.
func rawRecvmsg(fd, msg, flags uintptr) (uintptr, uintptr, syscall.Errno) {
	r1, r2, errno := unix.Syscall(unix.SYS_RECVMSG, fd, msg, flags)
	return r1, r2, errno
}
