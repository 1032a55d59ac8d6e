package tipc

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// errConsumed is returned when a typed wrapper whose descriptor has
// already been moved into another wrapper (or otherwise given up, e.g.
// via IntoRaw) is used again. Every state transition in this file takes
// ownership of the source wrapper's Socket and leaves the source unusable
// (spec.md §8.3, "state monotonicity").
var errConsumed = errors.New("tipc: wrapper already consumed by a state transition")

// builderCore holds the common pre-transition configuration surface
// (spec.md §4.D "Builder options") shared by Stream, SeqPacket and
// Datagram builders. Each kind-specific Builder type embeds it rather
// than sharing a single generic Builder[T], so that illegal operations -
// e.g. calling Connect on a DatagramBuilder - are rejected by the
// compiler rather than at runtime (see spec.md §9's design note on the
// two equally valid ways to encode the state machine).
type builderCore struct {
	sock *Socket
}

func (c *builderCore) take() (*Socket, error) {
	if c.sock == nil {
		return nil, errConsumed
	}
	sock := c.sock
	c.sock = nil
	return sock, nil
}

func (c *builderCore) importance(i Importance) error {
	if c.sock == nil {
		return errConsumed
	}
	return c.sock.SetImportance(i)
}

func (c *builderCore) connectTimeout(d time.Duration) error {
	if c.sock == nil {
		return errConsumed
	}
	return c.sock.SetConnectTimeout(d)
}

func (c *builderCore) nonblocking(v bool) error {
	if c.sock == nil {
		return errConsumed
	}
	c.sock.SetNonblocking(v)
	return nil
}

func (c *builderCore) recvBufSize(n uint32) error {
	if c.sock == nil {
		return errConsumed
	}
	return c.sock.SetRecvBufSize(n)
}

func (c *builderCore) localAddr() (SocketAddr, error) {
	if c.sock == nil {
		return SocketAddr{}, errConsumed
	}
	return c.sock.LocalAddr()
}

// ---- Stream: a byte-stream, connection-oriented socket (SOCK_STREAM). ----

// StreamBuilder is a freshly created stream socket, not yet bound,
// listening, or connected.
type StreamBuilder struct{ builderCore }

// NewStream creates a new SOCK_STREAM TIPC socket.
func NewStream() (*StreamBuilder, error) {
	sock, err := newSocket(unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	return &StreamBuilder{builderCore{sock: sock}}, nil
}

func (b *StreamBuilder) Importance(i Importance) (*StreamBuilder, error) {
	return b, b.importance(i)
}
func (b *StreamBuilder) ConnectTimeout(d time.Duration) (*StreamBuilder, error) {
	return b, b.connectTimeout(d)
}
func (b *StreamBuilder) Nonblocking(v bool) (*StreamBuilder, error) { return b, b.nonblocking(v) }
func (b *StreamBuilder) RecvBufSize(n uint32) (*StreamBuilder, error) {
	return b, b.recvBufSize(n)
}
func (b *StreamBuilder) LocalAddr() (SocketAddr, error) { return b.localAddr() }

// Bind binds the socket to the given ranges, consuming the builder.
func (b *StreamBuilder) Bind(binds ...bindOne) (*StreamBound, error) {
	sock, err := b.take()
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(binds...); err != nil {
		return nil, err
	}
	return &StreamBound{sock: sock}, nil
}

// Connect connects to the first of candidates that succeeds, consuming
// the builder.
func (b *StreamBuilder) Connect(ctx context.Context, scope Scope, candidates ...ServiceAddr) (*StreamConn, error) {
	sock, err := b.take()
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(ctx, scope, candidates...); err != nil {
		return nil, err
	}
	return &StreamConn{sock: sock}, nil
}

// StreamBound is a stream socket bound to one or more service ranges.
type StreamBound struct{ sock *Socket }

func (b *StreamBound) Bind(binds ...bindOne) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Bind(binds...)
}

func (b *StreamBound) Unbind(r ...ServiceRange) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Unbind(r...)
}

func (b *StreamBound) LocalAddr() (SocketAddr, error) {
	if b.sock == nil {
		return SocketAddr{}, errConsumed
	}
	return b.sock.LocalAddr()
}

// Listen marks the bound socket as accepting connections, consuming it.
func (b *StreamBound) Listen(backlog int) (*StreamListener, error) {
	if b.sock == nil {
		return nil, errConsumed
	}
	if err := b.sock.Listen(backlog); err != nil {
		return nil, err
	}
	sock := b.sock
	b.sock = nil
	return &StreamListener{sock: sock}, nil
}

// StreamListener accepts incoming stream connections.
type StreamListener struct{ sock *Socket }

func (l *StreamListener) LocalAddr() (SocketAddr, error) { return l.sock.LocalAddr() }
func (l *StreamListener) Close() error                   { return l.sock.Close() }

// Accept blocks until an inbound connection is present.
func (l *StreamListener) Accept(ctx context.Context) (*StreamConn, SocketAddr, error) {
	sock, peer, err := l.sock.Accept(ctx)
	if err != nil {
		return nil, SocketAddr{}, err
	}
	return &StreamConn{sock: sock}, peer, nil
}

// StreamConn is a connected byte-stream socket; it implements io.Reader and
// io.Writer. It has no deadline methods of its own; the NetConn adapter
// provides them.
type StreamConn struct{ sock *Socket }

func (c *StreamConn) LocalAddr() (SocketAddr, error)  { return c.sock.LocalAddr() }
func (c *StreamConn) RemoteAddr() (SocketAddr, error) { return c.sock.RemoteAddr() }
func (c *StreamConn) Close() error                    { return c.sock.Close() }
func (c *StreamConn) Shutdown(how int) error           { return c.sock.Shutdown(how) }

// Read performs a single recv, matching io.Reader semantics (a short read
// is not an error).
func (c *StreamConn) Read(p []byte) (int, error) {
	return c.sock.Recv(context.Background(), p, false)
}

// ReadExact reads exactly len(p) bytes, via MSG_WAITALL, reporting
// io.ErrUnexpectedEOF on a short read (spec.md §4.D).
func (c *StreamConn) ReadExact(p []byte) error {
	_, err := c.sock.Recv(context.Background(), p, true)
	return err
}

// Write writes p in a single send.
func (c *StreamConn) Write(p []byte) (int, error) {
	return c.sock.Send(context.Background(), p)
}

var (
	_ io.Reader = (*StreamConn)(nil)
	_ io.Writer = (*StreamConn)(nil)
)

// ---- SeqPacket: a connection-oriented, fixed-boundary packet socket. ----

// SeqPacketBuilder is a freshly created SOCK_SEQPACKET socket.
type SeqPacketBuilder struct{ builderCore }

func NewSeqPacket() (*SeqPacketBuilder, error) {
	sock, err := newSocket(unix.SOCK_SEQPACKET)
	if err != nil {
		return nil, err
	}
	return &SeqPacketBuilder{builderCore{sock: sock}}, nil
}

func (b *SeqPacketBuilder) Importance(i Importance) (*SeqPacketBuilder, error) {
	return b, b.importance(i)
}
func (b *SeqPacketBuilder) ConnectTimeout(d time.Duration) (*SeqPacketBuilder, error) {
	return b, b.connectTimeout(d)
}
func (b *SeqPacketBuilder) Nonblocking(v bool) (*SeqPacketBuilder, error) {
	return b, b.nonblocking(v)
}
func (b *SeqPacketBuilder) RecvBufSize(n uint32) (*SeqPacketBuilder, error) {
	return b, b.recvBufSize(n)
}
func (b *SeqPacketBuilder) LocalAddr() (SocketAddr, error) { return b.localAddr() }

func (b *SeqPacketBuilder) Bind(binds ...bindOne) (*SeqPacketBound, error) {
	sock, err := b.take()
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(binds...); err != nil {
		return nil, err
	}
	return &SeqPacketBound{sock: sock}, nil
}

func (b *SeqPacketBuilder) Connect(ctx context.Context, scope Scope, candidates ...ServiceAddr) (*SeqPacketConn, error) {
	sock, err := b.take()
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(ctx, scope, candidates...); err != nil {
		return nil, err
	}
	return &SeqPacketConn{sock: sock}, nil
}

// SeqPacketBound is a SOCK_SEQPACKET socket bound to one or more ranges.
// Before transitioning to a Listener, it may also send/receive directly
// (the "optimized connect" pattern from spec.md §4.D, where the first
// send implicitly associates the socket with a peer).
type SeqPacketBound struct{ sock *Socket }

func (b *SeqPacketBound) Bind(binds ...bindOne) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Bind(binds...)
}

func (b *SeqPacketBound) Unbind(r ...ServiceRange) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Unbind(r...)
}

func (b *SeqPacketBound) LocalAddr() (SocketAddr, error) {
	if b.sock == nil {
		return SocketAddr{}, errConsumed
	}
	return b.sock.LocalAddr()
}

func (b *SeqPacketBound) SendTo(ctx context.Context, p []byte, dst any) (int, error) {
	if b.sock == nil {
		return 0, errConsumed
	}
	return b.sock.SendTo(ctx, p, dst)
}

func (b *SeqPacketBound) RecvFrom(ctx context.Context, p []byte) (int, SocketAddr, error) {
	if b.sock == nil {
		return 0, SocketAddr{}, errConsumed
	}
	res, err := b.sock.recvMsg(p)
	if err != nil {
		return 0, SocketAddr{}, err
	}
	if res.kind == recvRejected {
		return res.n, SocketAddr{}, &res.rejected
	}
	return res.n, res.peer, nil
}

func (b *SeqPacketBound) Listen(backlog int) (*SeqPacketListener, error) {
	if b.sock == nil {
		return nil, errConsumed
	}
	if err := b.sock.Listen(backlog); err != nil {
		return nil, err
	}
	sock := b.sock
	b.sock = nil
	return &SeqPacketListener{sock: sock}, nil
}

type SeqPacketListener struct{ sock *Socket }

func (l *SeqPacketListener) LocalAddr() (SocketAddr, error) { return l.sock.LocalAddr() }
func (l *SeqPacketListener) Close() error                   { return l.sock.Close() }

func (l *SeqPacketListener) Accept(ctx context.Context) (*SeqPacketConn, SocketAddr, error) {
	sock, peer, err := l.sock.Accept(ctx)
	if err != nil {
		return nil, SocketAddr{}, err
	}
	return &SeqPacketConn{sock: sock}, peer, nil
}

// SeqPacketConn is a connected SOCK_SEQPACKET socket: message boundaries
// are preserved, unlike StreamConn.
type SeqPacketConn struct{ sock *Socket }

func (c *SeqPacketConn) LocalAddr() (SocketAddr, error)  { return c.sock.LocalAddr() }
func (c *SeqPacketConn) RemoteAddr() (SocketAddr, error) { return c.sock.RemoteAddr() }
func (c *SeqPacketConn) Close() error                    { return c.sock.Close() }
func (c *SeqPacketConn) Shutdown(how int) error           { return c.sock.Shutdown(how) }

func (c *SeqPacketConn) Send(ctx context.Context, p []byte) (int, error) {
	return c.sock.Send(ctx, p)
}

func (c *SeqPacketConn) Recv(ctx context.Context, p []byte) (int, error) {
	return c.sock.Recv(ctx, p, false)
}

// ---- Datagram: a reliable datagram socket (SOCK_RDM). ----

// DatagramBuilder is a freshly created SOCK_RDM socket.
type DatagramBuilder struct{ builderCore }

func NewDatagram() (*DatagramBuilder, error) {
	sock, err := newSocket(unix.SOCK_RDM)
	if err != nil {
		return nil, err
	}
	return &DatagramBuilder{builderCore{sock: sock}}, nil
}

func (b *DatagramBuilder) Importance(i Importance) (*DatagramBuilder, error) {
	return b, b.importance(i)
}
func (b *DatagramBuilder) Nonblocking(v bool) (*DatagramBuilder, error) { return b, b.nonblocking(v) }
func (b *DatagramBuilder) RecvBufSize(n uint32) (*DatagramBuilder, error) {
	return b, b.recvBufSize(n)
}
func (b *DatagramBuilder) LocalAddr() (SocketAddr, error) { return b.localAddr() }

// Bind binds the socket to the given ranges, consuming the builder. This
// is a terminal state for datagrams (spec.md §4.D): it may continue
// receiving without any further transition, or join a Group.
func (b *DatagramBuilder) Bind(binds ...bindOne) (*DatagramBound, error) {
	sock, err := b.take()
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(binds...); err != nil {
		return nil, err
	}
	return &DatagramBound{sock: sock}, nil
}

// DatagramBound is a bound (or connected-as-sugar) SOCK_RDM socket.
type DatagramBound struct {
	sock      *Socket
	connected bool
}

func (b *DatagramBound) Bind(binds ...bindOne) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Bind(binds...)
}

func (b *DatagramBound) Unbind(r ...ServiceRange) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Unbind(r...)
}

func (b *DatagramBound) LocalAddr() (SocketAddr, error) {
	if b.sock == nil {
		return SocketAddr{}, errConsumed
	}
	return b.sock.LocalAddr()
}

func (b *DatagramBound) Close() error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.Close()
}

// SetRejectable toggles whether undeliverable datagrams sent from this
// socket come back to the sender via an ERRINFO-carrying Rejected error
// instead of being silently dropped (spec.md §4.D, §9 open question:
// this never changes the kernel default on its own).
func (b *DatagramBound) SetRejectable(rejectable bool) error {
	if b.sock == nil {
		return errConsumed
	}
	return b.sock.SetRejectable(rejectable)
}

// Connect connects this datagram socket to addr with a kernel connect(2),
// so that Send and Recv can be used without naming a peer. The wrapper's
// API is not narrowed afterwards: SendTo, RecvFrom and the vectored calls
// remain available.
func (b *DatagramBound) Connect(ctx context.Context, scope Scope, addr ServiceAddr) error {
	if b.sock == nil {
		return errConsumed
	}
	if err := b.sock.Connect(ctx, scope, addr); err != nil {
		return err
	}
	b.connected = true
	return nil
}

func (b *DatagramBound) Send(ctx context.Context, p []byte) (int, error) {
	if b.sock == nil {
		return 0, errConsumed
	}
	return b.sock.Send(ctx, p)
}

func (b *DatagramBound) Recv(ctx context.Context, p []byte) (int, error) {
	if b.sock == nil {
		return 0, errConsumed
	}
	return b.sock.Recv(ctx, p, false)
}

func (b *DatagramBound) SendTo(ctx context.Context, p []byte, dst any) (int, error) {
	if b.sock == nil {
		return 0, errConsumed
	}
	return b.sock.SendTo(ctx, p, dst)
}

// RecvResult is the outcome of RecvFrom for an ordinary message. RecvFrom
// reports a rejected datagram (observed via ERRINFO, only possible once
// SetRejectable(true) has been called) as a *RejectedError error, not in
// this value, so Rejected is always nil in what RecvFrom returns.
type RecvResult struct {
	N        int
	Rejected *RejectedError
}

func (b *DatagramBound) RecvFrom(ctx context.Context, p []byte) (RecvResult, SocketAddr, error) {
	if b.sock == nil {
		return RecvResult{}, SocketAddr{}, errConsumed
	}
	res, err := b.sock.recvMsg(p)
	if err != nil {
		return RecvResult{}, SocketAddr{}, err
	}

	if res.kind == recvRejected {
		// recv_from collapses a Rejected outcome into an error, per
		// spec.md §4.C.4 and §7: the asymmetry with recvMsg (which
		// preserves it as data) is intentional.
		return RecvResult{}, res.peer, &res.rejected
	}

	return RecvResult{N: res.n}, res.peer, nil
}

// RecvVectored scatters one datagram across bufs in order: later buffers
// are only filled once earlier ones are full, matching readv(2).
func (b *DatagramBound) RecvVectored(ctx context.Context, bufs [][]byte) (int, SocketAddr, error) {
	if b.sock == nil {
		return 0, SocketAddr{}, errConsumed
	}
	total := 0
	for _, buf := range bufs {
		total += len(buf)
	}
	flat := make([]byte, total)

	res, err := b.sock.recvMsg(flat)
	if err != nil {
		return 0, SocketAddr{}, err
	}
	if res.kind == recvRejected {
		return res.n, SocketAddr{}, &res.rejected
	}

	n := res.n
	off := 0
	for _, buf := range bufs {
		if off >= n {
			break
		}
		c := copy(buf, flat[off:n])
		off += c
	}

	return n, res.peer, nil
}

// SendVectored gathers bufs into a single datagram sent to dst.
func (b *DatagramBound) SendVectored(ctx context.Context, bufs [][]byte, dst any) (int, error) {
	if b.sock == nil {
		return 0, errConsumed
	}
	total := 0
	for _, buf := range bufs {
		total += len(buf)
	}
	flat := make([]byte, 0, total)
	for _, buf := range bufs {
		flat = append(flat, buf...)
	}
	return b.sock.SendTo(ctx, flat, dst)
}

// Join consumes the datagram socket and returns a Group, per spec.md
// §4.E.
func (b *DatagramBound) Join(service ServiceAddr, visibility Visibility, flags GroupFlags) (*Group, error) {
	if b.sock == nil {
		return nil, errConsumed
	}

	if err := b.sock.joinGroup(groupReq{
		Type:     service.Type,
		Instance: service.Instance,
		Scope:    uint32(visibility),
		Flags:    uint32(flags),
	}); err != nil {
		return nil, err
	}

	sock := b.sock
	b.sock = nil
	return &Group{sock: sock}, nil
}
