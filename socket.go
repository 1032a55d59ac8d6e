package tipc

import (
	"context"
	"io"
	"syscall"
	"time"
	"unsafe"

	mdsocket "github.com/mdlayher/socket"
	"golang.org/x/sys/unix"
)

// Socket owns exactly one file descriptor and implements the untyped
// operations of spec component C. The typed facade in facade.go builds on
// top of it; callers normally use Builder/Bound/Listener/Connected/Group
// instead of Socket directly.
//
// Fd lifecycle, deadlines and the simple getsockopt/setsockopt/bind/listen
// calls are delegated to *mdlayher/socket.Conn, the same low-level
// foundation address-family-specific client libraries in the wider Go
// ecosystem (mdlayher/vsock, mdlayher/arp, ...) are built on. The two-slot
// recvmsg dispatch that group membership and rejected-datagram detection
// need (spec.md §4.C) has no equivalent there, so it is implemented
// directly over the same syscall.RawConn mdlayher/socket exposes.
type Socket struct {
	conn        *mdsocket.Conn
	nonblocking bool
}

func newSocket(sockType int) (*Socket, error) {
	conn, err := mdsocket.Socket(unix.AF_TIPC, sockType, 0, "tipc", nil)
	if err != nil {
		return nil, wrapf("socket", err)
	}
	return &Socket{conn: conn}, nil
}

// Close closes the socket's descriptor exactly once.
func (s *Socket) Close() error {
	return wrapf("close", s.conn.Close())
}

// SetNonblocking toggles whether the recvmsg-based receive path (recvMsg,
// used by RecvFrom, RecvVectored and Group.Recv) surfaces EAGAIN
// immediately or lets the runtime poller retry until ready (the default).
// Recv, Send, SendTo, Accept and Connect do not consult this setting: they
// always wait on the runtime poller.
func (s *Socket) SetNonblocking(nonblocking bool) {
	s.nonblocking = nonblocking
}

// LocalAddr returns the address of the local half of this socket.
func (s *Socket) LocalAddr() (SocketAddr, error) {
	sa, err := s.conn.Getsockname()
	if err != nil {
		return SocketAddr{}, wrapf("getsockname", err)
	}
	return socketAddrFromUnix(sa)
}

// RemoteAddr returns the address of the connected peer, if any.
func (s *Socket) RemoteAddr() (SocketAddr, error) {
	sa, err := s.conn.Getpeername()
	if err != nil {
		return SocketAddr{}, wrapf("getpeername", err)
	}
	return socketAddrFromUnix(sa)
}

func socketAddrFromUnix(sa unix.Sockaddr) (SocketAddr, error) {
	st, ok := sa.(*unix.SockaddrTIPC)
	if !ok {
		return SocketAddr{}, &ProtocolError{Op: "sockaddr", Msg: "not a TIPC address"}
	}
	id, ok := st.Addr.(*unix.SockaddrTIPCAddrID)
	if !ok {
		return SocketAddr{}, &ProtocolError{Op: "sockaddr", Msg: "not a socket-id address"}
	}
	return SocketAddr{Port: id.AddrID.Ref, Node: id.AddrID.Node}, nil
}

// bindOne is one binding request: a range and the visibility it should be
// bound at.
type bindOne struct {
	Range      ServiceRange
	Visibility Visibility
}

// BindOne constructs a binding request for Builder.Bind/Bound.Bind, at
// the given visibility.
func BindOne(r ServiceRange, visibility Visibility) bindOne {
	return bindOne{Range: r, Visibility: visibility}
}

// Bind binds the socket to each of the given ranges in order. A socket may
// be bound to multiple disjoint ranges and types; the last-added range
// affects round-robin anycast weight in the kernel.
func (s *Socket) Bind(binds ...bindOne) error {
	for _, b := range binds {
		sa := sockaddrForRange(b.Range)
		sa.Scope = int8(b.Visibility)
		if err := s.conn.Bind(sa); err != nil {
			return wrapf("bind", err)
		}
	}
	return nil
}

// Unbind removes each of the given ranges' bindings, using the sentinel
// scope value -1 that instructs the kernel to remove rather than add.
func (s *Socket) Unbind(ranges ...ServiceRange) error {
	for _, r := range ranges {
		sa := sockaddrForRange(r)
		sa.Scope = -1
		if err := s.conn.Bind(sa); err != nil {
			return wrapf("unbind", err)
		}
	}
	return nil
}

// Listen marks the socket as accepting incoming connections.
func (s *Socket) Listen(backlog int) error {
	return wrapf("listen", s.conn.Listen(backlog))
}

// Accept blocks until an inbound connection is present (or ctx ends),
// returning the new socket and the peer's address. It waits on the runtime
// poller whether or not SetNonblocking was set.
func (s *Socket) Accept(ctx context.Context) (*Socket, SocketAddr, error) {
	conn, sa, err := s.conn.Accept(ctx, 0)
	if err != nil {
		return nil, SocketAddr{}, wrapf("accept", err)
	}

	peer, err := socketAddrFromUnix(sa)
	if err != nil {
		conn.Close()
		return nil, SocketAddr{}, err
	}

	return &Socket{conn: conn}, peer, nil
}

// Connect iterates candidate service addresses, connecting to the first
// one that succeeds. If candidates is empty, returns EADDRNOTAVAIL; if all
// fail, returns the last error seen.
func (s *Socket) Connect(ctx context.Context, scope Scope, candidates ...ServiceAddr) error {
	if len(candidates) == 0 {
		return wrapf("connect", unix.EADDRNOTAVAIL)
	}

	var lastErr error
	for _, addr := range candidates {
		sa := sockaddrForService(addr)
		sa.Addr.(*unix.SockaddrTIPCAddrName).Domain = scope.domain()

		if _, err := s.conn.Connect(ctx, sa); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return wrapf("connect", lastErr)
}

// Send writes buf to the connected peer.
func (s *Socket) Send(ctx context.Context, buf []byte) (int, error) {
	n, err := s.conn.WriteContext(ctx, buf)
	return n, wrapf("send", err)
}

// Recv reads into buf. If waitAll is set, it requests MSG_WAITALL so the
// call only returns once buf is full (or the peer closes).
func (s *Socket) Recv(ctx context.Context, buf []byte, waitAll bool) (int, error) {
	flags := 0
	if waitAll {
		flags = unix.MSG_WAITALL
	}

	n, _, _, _, err := s.conn.Recvmsg(ctx, buf, nil, flags)
	if err != nil {
		return n, wrapf("recv", err)
	}
	if waitAll && n < len(buf) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// SendTo sends buf to a unicast socket address, a service address
// (anycast), or, via Multicast, a service range.
func (s *Socket) SendTo(ctx context.Context, buf []byte, dst any) (int, error) {
	var sa unix.Sockaddr

	switch d := dst.(type) {
	case SocketAddr:
		sa = sockaddrForSocket(d)
	case ServiceAddr:
		sa = sockaddrForService(d)
	case ServiceRange:
		return s.Multicast(ctx, buf, d, VisibilityCluster)
	default:
		return 0, &ProtocolError{Op: "send_to", Msg: "unsupported destination address type"}
	}

	if err := s.conn.Sendto(ctx, buf, 0, sa); err != nil {
		return 0, wrapf("sendto", err)
	}
	return len(buf), nil
}

// Multicast sends buf to every socket bound within dst at the given
// visibility, using TIPC_ADDR_MCAST addressing rather than plain
// SERVICE_ADDR/SERVICE_RANGE addressing.
func (s *Socket) Multicast(ctx context.Context, buf []byte, dst ServiceRange, visibility Visibility) (int, error) {
	sa := &unix.SockaddrTIPC{
		Scope: int8(visibility),
		Addr: &unix.SockaddrTIPCAddrNameSeq{
			NameSeq: unix.TIPCServiceRange{Type: dst.Type, Lower: dst.Lower, Upper: dst.Upper},
		},
	}

	if err := s.conn.Sendto(ctx, buf, 0, sa); err != nil {
		return 0, wrapf("mcast", err)
	}
	return len(buf), nil
}

// Shutdown terminates the read half, write half, or both, notifying the
// peer with CONN_SHUTDOWN rather than an error.
func (s *Socket) Shutdown(how int) error {
	return wrapf("shutdown", s.conn.Shutdown(how))
}

// SetDeadline, SetReadDeadline and SetWriteDeadline forward to the
// underlying mdlayher/socket.Conn, giving StreamConn the deadline
// methods net.Conn expects (see net.go's netConn adapter).
func (s *Socket) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *Socket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *Socket) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// SetImportance sets TIPC_IMPORTANCE.
func (s *Socket) SetImportance(imp Importance) error {
	return s.control(func(fd int) error { return setSockOptInt(fd, optImportance, uint32(imp)) })
}

// Importance reads TIPC_IMPORTANCE.
func (s *Socket) Importance() (Importance, error) {
	var v uint32
	err := s.controlErr(func(fd int) (err error) { v, err = getSockOptInt(fd, optImportance); return })
	return Importance(v), err
}

// SetConnectTimeout sets TIPC_CONN_TIMEOUT, enforced by the kernel during
// connect(2).
func (s *Socket) SetConnectTimeout(d time.Duration) error {
	return s.control(func(fd int) error { return setSockOptInt(fd, optConnTimeout, durationToMillis(d)) })
}

// ConnectTimeout reads TIPC_CONN_TIMEOUT.
func (s *Socket) ConnectTimeout() (time.Duration, error) {
	var v uint32
	err := s.controlErr(func(fd int) (err error) { v, err = getSockOptInt(fd, optConnTimeout); return })
	return millisToDuration(v), err
}

// SetRejectable toggles TIPC_DEST_DROPPABLE. When rejectable is true
// (DEST_DROPPABLE cleared), undeliverable datagrams sent from this socket
// are returned to the sender via ERRINFO instead of being silently
// dropped. spec.md §9 leaves the kernel default unchanged; this only
// exposes the option.
func (s *Socket) SetRejectable(rejectable bool) error {
	v := uint32(1)
	if rejectable {
		v = 0
	}
	return s.control(func(fd int) error { return setSockOptInt(fd, optDestDroppable, v) })
}

// SetRecvBufSize sets the kernel socket receive queue depth hint.
func (s *Socket) SetRecvBufSize(n uint32) error {
	return s.control(func(fd int) error { return setSockOptInt(fd, optSockRecvqDepth, n) })
}

func (s *Socket) joinGroup(req groupReq) error {
	return s.control(func(fd int) error { return setSockOptGroupJoin(fd, req) })
}

func (s *Socket) leaveGroup() error {
	return s.control(func(fd int) error { return setSockOptGroupLeave(fd) })
}

func (s *Socket) control(f func(fd int) error) error {
	rc, err := s.conn.SyscallConn()
	if err != nil {
		return wrapf("syscallconn", err)
	}

	var opErr error
	if cerr := rc.Control(func(fd uintptr) { opErr = f(int(fd)) }); cerr != nil {
		return wrapf("control", cerr)
	}
	return opErr
}

func (s *Socket) controlErr(f func(fd int) error) error {
	return s.control(f)
}

// recvResult is the classified outcome of a raw recvmsg(2) call, per
// spec.md §4.C's central dispatch.
type recvResult struct {
	kind      recvKind
	n         int
	peer      SocketAddr  // source address, valid for recvMessage/recvRejected
	service   ServiceAddr // valid for memberJoin/memberLeave
	rejected  RejectedError
	sourceSvc ServiceRange // DESTNAME, valid when present
	hasDest   bool
}

type recvKind int

const (
	recvMessage recvKind = iota
	recvRejected
	recvMemberJoin
	recvMemberLeave
)

// recvMsg performs the two-slot recvmsg(2) at the heart of spec component
// C: the kernel writes the source socket address in name slot 0 and, for
// group sockets, the member's service address in slot 1. This needs a
// custom Msghdr with a 32-byte name area, which neither mdlayher/socket
// nor unix.Recvmsg (which only decode a single sockaddr) support, so it
// goes directly over the fd via SyscallConn, mirroring the teacher's own
// Recvmsg and the Rust original's Socket::recv_from.
func (s *Socket) recvMsg(buf []byte) (recvResult, error) {
	const sockaddrSize = unix.SizeofSockaddrTIPC

	nameBuf := make([]byte, sockaddrSize*2)
	ancBuf := make([]byte, unix.CmsgSpace(8)+unix.CmsgSpace(1024)+unix.CmsgSpace(16))

	var iov unix.Iovec
	if len(buf) > 0 {
		iov.Base = &buf[0]
	} else {
		var zero byte
		iov.Base = &zero
	}
	iov.SetLen(len(buf))

	var msg unix.Msghdr
	msg.Name = &nameBuf[0]
	msg.Namelen = uint32(len(nameBuf))
	msg.Iov = &iov
	msg.Iovlen = 1
	msg.Control = &ancBuf[0]
	msg.SetControllen(len(ancBuf))

	var (
		rc    int
		errno syscall.Errno
	)

	conn, err := s.conn.SyscallConn()
	if err != nil {
		return recvResult{}, wrapf("syscallconn", err)
	}

	poll := func(fd uintptr) bool {
		r, _, e := rawRecvmsg(fd, uintptr(unsafe.Pointer(&msg)), 0)
		rc, errno = int(r), e
		if errno == syscall.EAGAIN && !s.nonblocking {
			return false
		}
		return true
	}

	if cerr := conn.Read(poll); cerr != nil {
		return recvResult{}, wrapf("recvmsg", cerr)
	}
	if errno != 0 {
		return recvResult{}, wrapf("recvmsg", errno)
	}

	var out recvResult

	// Group member events arrive as zero-length OOB messages (spec.md §4.C.2,
	// §8.7): MSG_EOR distinguishes leave from join.
	if msg.Flags&unix.MSG_OOB != 0 {
		if rc > 0 {
			return recvResult{}, &ProtocolError{Op: "recvmsg", Msg: "unexpected OOB data with nonzero payload"}
		}

		member, ok := memberFromNameSlot(nameBuf[sockaddrSize:])
		if !ok {
			return recvResult{}, &ProtocolError{Op: "recvmsg", Msg: "missing member address in OOB event"}
		}

		out.service = member
		if msg.Flags&unix.MSG_EOR != 0 {
			out.kind = recvMemberLeave
		} else {
			out.kind = recvMemberJoin
		}
		return out, nil
	}

	if peer, ok := socketAddrFromNameSlot(nameBuf[:sockaddrSize]); ok {
		out.peer = peer
	}

	cmsgs, err := parseCmsgs(ancBuf[:msg.Controllen])
	if err != nil {
		return recvResult{}, err
	}

	var (
		gotErrInfo errInfo
		haveErr    bool
		retData    []byte
		retLen     int
	)

	for _, c := range cmsgs {
		if c.level != solTIPC {
			continue
		}
		switch c.typ {
		case cmsgTypeErrInfo:
			if ei, ok := decodeErrInfo(c.data); ok {
				gotErrInfo = ei
				haveErr = true
			}
		case cmsgTypeRetData:
			retData = c.data
		case cmsgTypeDestName:
			if dn, ok := decodeDestName(c.data); ok {
				out.sourceSvc = dn.rng
				out.hasDest = true
			}
		}
	}

	if haveErr {
		retLen = len(buf)
		if int(gotErrInfo.length) < retLen {
			retLen = int(gotErrInfo.length)
		}
		if retLen > len(retData) {
			retLen = len(retData)
		}
		copy(buf[:retLen], retData[:retLen])

		out.kind = recvRejected
		out.rejected = RejectedError{Code: gotErrInfo.code}
		out.n = retLen
		return out, nil
	}

	out.kind = recvMessage
	out.n = rc
	return out, nil
}

// socketAddrFromNameSlot decodes a SOCKET_ADDR name slot (the source
// address the kernel fills in at recvmsg name slot 0) into a SocketAddr.
func socketAddrFromNameSlot(b []byte) (SocketAddr, bool) {
	if len(b) < int(unix.SizeofSockaddrTIPC) {
		return SocketAddr{}, false
	}
	if b[2] != addrTypeSocketAddr {
		return SocketAddr{}, false
	}
	return SocketAddr{
		Port: nativeEndian.Uint32(b[4:8]),
		Node: nativeEndian.Uint32(b[8:12]),
	}, true
}

func memberFromNameSlot(b []byte) (ServiceAddr, bool) {
	if len(b) < int(unix.SizeofSockaddrTIPC) {
		return ServiceAddr{}, false
	}
	// addrtype and scope sit at bytes [2:4] of sockaddr_tipc; the name
	// union starts at byte 4, (type, instance) as two native-endian u32s.
	if b[2] != addrTypeServiceAddr {
		return ServiceAddr{}, false
	}
	return ServiceAddr{
		Type:     nativeEndian.Uint32(b[4:8]),
		Instance: nativeEndian.Uint32(b[8:12]),
	}, true
}

const (
	cmsgTypeErrInfo  = 1
	cmsgTypeRetData  = 2
	cmsgTypeDestName = 3
)
