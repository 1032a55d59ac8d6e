package tipc

import "context"

// GroupFlags controls behavior at TIPC_GROUP_JOIN time.
type GroupFlags uint32

const (
	// GroupLoopback delivers a copy of broadcast/multicast sends back to
	// the sender itself, if it is also a member.
	GroupLoopback GroupFlags = groupFlagLoopback
	// GroupMemberEvents makes Recv surface MemberJoin/MemberLeave as they
	// happen, rather than only ordinary messages.
	GroupMemberEvents GroupFlags = groupFlagMemberEvts
)

// Group is a datagram socket that has joined a service as a group member
// (spec.md §4.E). Membership is visible cluster-wide via the topology
// server the same way an ordinary binding is.
type Group struct {
	sock *Socket
}

// LocalAddr returns this member's own socket address.
func (g *Group) LocalAddr() (SocketAddr, error) {
	if g.sock == nil {
		return SocketAddr{}, errConsumed
	}
	return g.sock.LocalAddr()
}

// Close leaves the group (implicitly, as a side effect of closing the
// underlying socket) and releases the descriptor.
func (g *Group) Close() error {
	if g.sock == nil {
		return errConsumed
	}
	return g.sock.Close()
}

// Leave explicitly leaves the group via TIPC_GROUP_LEAVE and returns the
// underlying socket, consuming the Group: the descriptor can be rejoined
// or repurposed afterwards, the same consume-and-return pattern as
// StreamBound.Listen/DatagramBound.Join.
func (g *Group) Leave() (*Socket, error) {
	if g.sock == nil {
		return nil, errConsumed
	}
	if err := g.sock.leaveGroup(); err != nil {
		return nil, err
	}
	sock := g.sock
	g.sock = nil
	return sock, nil
}

// Broadcast sends msg to every current member of the group.
func (g *Group) Broadcast(ctx context.Context, msg []byte) (int, error) {
	if g.sock == nil {
		return 0, errConsumed
	}
	return g.sock.Send(ctx, msg)
}

// Multicast sends msg to every member whose instance falls within dst.
func (g *Group) Multicast(ctx context.Context, msg []byte, dst ServiceRange) (int, error) {
	if g.sock == nil {
		return 0, errConsumed
	}
	return g.sock.Multicast(ctx, msg, dst, VisibilityCluster)
}

// Anycast sends msg to exactly one member of dst, chosen by the kernel's
// round-robin load balancer.
func (g *Group) Anycast(ctx context.Context, msg []byte, dst ServiceAddr) (int, error) {
	if g.sock == nil {
		return 0, errConsumed
	}
	return g.sock.SendTo(ctx, msg, dst)
}

// SendTo sends msg to one specific member, by its socket address.
func (g *Group) SendTo(ctx context.Context, msg []byte, dst SocketAddr) (int, error) {
	if g.sock == nil {
		return 0, errConsumed
	}
	return g.sock.SendTo(ctx, msg, dst)
}

// GroupEventKind classifies what Recv observed.
type GroupEventKind int

const (
	GroupMessage GroupEventKind = iota
	GroupMemberJoin
	GroupMemberLeave
)

// GroupEvent is the outcome of a Group Recv: either a payload from a peer,
// or a membership change for the service named in Member.
type GroupEvent struct {
	Kind   GroupEventKind
	N      int
	Member ServiceAddr
}

// Recv waits for the next message or membership event. Member join/leave
// events only arrive when the group was joined with GroupMemberEvents set.
func (g *Group) Recv(ctx context.Context, buf []byte) (GroupEvent, error) {
	if g.sock == nil {
		return GroupEvent{}, errConsumed
	}
	res, err := g.sock.recvMsg(buf)
	if err != nil {
		return GroupEvent{}, err
	}

	switch res.kind {
	case recvMemberJoin:
		return GroupEvent{Kind: GroupMemberJoin, Member: res.service}, nil
	case recvMemberLeave:
		return GroupEvent{Kind: GroupMemberLeave, Member: res.service}, nil
	case recvRejected:
		return GroupEvent{}, &res.rejected
	default:
		return GroupEvent{Kind: GroupMessage, N: res.n}, nil
	}
}
