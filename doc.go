// Package tipc is a typed client of the Linux TIPC (Transparent Inter-Process
// Communication) protocol family.
//
// TIPC addresses endpoints by logical service name rather than by host and
// port. The kernel keeps a cluster-wide binding table and a topology service
// that publishes binding and link events; this package wraps the AF_TIPC
// socket family and the topology service's wire protocol.
//
// The socket surface is split into a typed facade (per-kind builder, bound,
// listener and connected types such as StreamBuilder, StreamBound,
// StreamListener and StreamConn, plus Group) over a small untyped core
// (Socket) so that illegal operations - writing to a Listener, binding
// twice after connect - are rejected by the type system instead of at the
// syscall boundary. See NewStream, NewSeqPacket and NewDatagram.
//
// Subpackage topology implements the topology server client described in
// spec component F: subscribing to service bindings and deriving neighbor
// node and link event streams from them.
package tipc
