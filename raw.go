package tipc

import (
	"encoding/binary"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// nativeEndian is the kernel's wire byte order for TIPC integers: native to
// the running machine, per spec.md §9 ("Endianness"). Detected once at
// package init the usual Go way (write a uint16, check which byte landed
// first), since the standard library has no portable "native" ByteOrder.
var nativeEndian = func() binary.ByteOrder {
	var probe uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&probe))
	if b[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// cmsg is one decoded control message: its TIPC-level type and raw payload.
type cmsg struct {
	level int
	typ   int
	data  []byte
}

// parseCmsgs walks the CMSG chain in an ancillary-data buffer and returns
// every control message in it, unknown types included; Socket.recvMsg
// ignores the types it does not know and does not depend on the order of
// ERRINFO and RETDATA.
func parseCmsgs(b []byte) ([]cmsg, error) {
	msgs, err := unix.ParseSocketControlMessage(b)
	if err != nil {
		return nil, wrapf("parse control message", err)
	}

	out := make([]cmsg, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, cmsg{
			level: int(m.Header.Level),
			typ:   int(m.Header.Type),
			data:  m.Data,
		})
	}
	return out, nil
}

// errInfo is the decoded two-word TIPC_ERRINFO control message: the kernel
// error code for an undelivered message, and the length of the returned
// payload carried in the following TIPC_RETDATA message.
type errInfo struct {
	code   uint32
	length uint32
}

func decodeErrInfo(data []byte) (errInfo, bool) {
	if len(data) < 8 {
		return errInfo{}, false
	}
	return errInfo{
		code:   nativeEndian.Uint32(data[0:4]),
		length: nativeEndian.Uint32(data[4:8]),
	}, true
}

// destName is the decoded three-word TIPC_DESTNAME control message: the
// service range a multicast/anycast message was actually delivered to.
type destName struct {
	rng ServiceRange
}

func decodeDestName(data []byte) (destName, bool) {
	if len(data) < 12 {
		return destName{}, false
	}
	return destName{rng: ServiceRange{
		Type:  nativeEndian.Uint32(data[0:4]),
		Lower: nativeEndian.Uint32(data[4:8]),
		Upper: nativeEndian.Uint32(data[8:12]),
	}}, true
}

// getSockOptInt reads an integer socket option at level SOL_TIPC from fd;
// Socket runs it inside SyscallConn().Control. "<0 OS error, >=0 success"
// is handled by the underlying unix call returning a Go error directly, not
// a raw negative, by virtue of going through unix.GetsockoptInt. The one
// struct-shaped option, GROUP_JOIN, is written by setSockOptGroupJoin.
func getSockOptInt(fd int, opt int) (uint32, error) {
	v, err := unix.GetsockoptInt(fd, solTIPC, opt)
	if err != nil {
		return 0, wrapf("getsockopt", err)
	}
	return uint32(v), nil
}

func setSockOptInt(fd int, opt int, value uint32) error {
	if err := unix.SetsockoptInt(fd, solTIPC, opt, int(value)); err != nil {
		return wrapf("setsockopt", err)
	}
	return nil
}

// groupReq is the value written to TIPC_GROUP_JOIN: group service, the
// visibility scope to join at, and the LOOPBACK/MEMBER_EVTS flag word.
type groupReq struct {
	Type     uint32
	Instance uint32
	Scope    uint32
	Flags    uint32
}

func setSockOptGroupJoin(fd int, req groupReq) error {
	b := make([]byte, 16)
	nativeEndian.PutUint32(b[0:], req.Type)
	nativeEndian.PutUint32(b[4:], req.Instance)
	nativeEndian.PutUint32(b[8:], req.Scope)
	nativeEndian.PutUint32(b[12:], req.Flags)

	if err := unix.SetsockoptString(fd, solTIPC, optGroupJoin, string(b)); err != nil {
		return wrapf("setsockopt(GROUP_JOIN)", err)
	}
	return nil
}

func setSockOptGroupLeave(fd int) error {
	if err := unix.SetsockoptInt(fd, solTIPC, optGroupLeave, 0); err != nil {
		return wrapf("setsockopt(GROUP_LEAVE)", err)
	}
	return nil
}

func durationToMillis(d time.Duration) uint32 {
	return uint32(d.Milliseconds())
}

func millisToDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
