package tipc

import (
	"net"
	"time"
)

// tipcAddr adapts a SocketAddr to net.Addr, for code that bridges to the
// standard library's networking interfaces (e.g. golang.org/x/net/nettest).
type tipcAddr struct{ addr SocketAddr }

func (a tipcAddr) Network() string { return "tipc" }
func (a tipcAddr) String() string  { return a.addr.String() }

// netConn adapts *StreamConn to net.Conn. The typed facade itself never
// returns a bare net.Conn (spec.md §4.D's wrappers carry their own
// explicit-error API), but this lets stream connections participate in
// standard-library- and x/net-based testing and tooling.
type netConn struct{ c *StreamConn }

// NetConn wraps a connected stream socket as a standard net.Conn.
func NetConn(c *StreamConn) net.Conn { return netConn{c: c} }

func (n netConn) Read(p []byte) (int, error)  { return n.c.Read(p) }
func (n netConn) Write(p []byte) (int, error) { return n.c.Write(p) }
func (n netConn) Close() error                { return n.c.Close() }

func (n netConn) LocalAddr() net.Addr {
	a, _ := n.c.LocalAddr()
	return tipcAddr{a}
}

func (n netConn) RemoteAddr() net.Addr {
	a, _ := n.c.RemoteAddr()
	return tipcAddr{a}
}

func (n netConn) SetDeadline(t time.Time) error      { return n.c.sock.SetDeadline(t) }
func (n netConn) SetReadDeadline(t time.Time) error  { return n.c.sock.SetReadDeadline(t) }
func (n netConn) SetWriteDeadline(t time.Time) error { return n.c.sock.SetWriteDeadline(t) }

var _ net.Conn = netConn{}
