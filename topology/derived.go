package topology

import (
	"context"

	tipc "github.com/flier/go-tipc"
)

// Well-known service types subscribed to for the derived neighbor
// streams (spec.md §4.F), mirroring <linux/tipc.h>'s TIPC_CFG_SRV and
// TIPC_LINK_STATE.
const (
	cfgSrv    = 0
	linkState = 2
)

// NodeEvent reports a neighbor node becoming reachable or unreachable.
type NodeEvent struct {
	Node uint32
	Up   bool
}

// NodeStream is the subscription-backed projection of topology events
// onto node reachability.
type NodeStream struct {
	srv *Server
}

// NeighborNodes subscribes to every binding of the node-state service
// and returns a stream of NodeEvent (spec.md §3, §4.F).
func NeighborNodes(ctx context.Context, scope tipc.Scope) (*NodeStream, error) {
	srv, err := Connect(ctx, scope)
	if err != nil {
		return nil, err
	}

	sub := Subscription{
		Service: tipc.ServiceRangeFull(cfgSrv),
		Filter:  FilterPorts,
	}
	if err := srv.Subscribe(ctx, sub); err != nil {
		srv.Close()
		return nil, err
	}

	return &NodeStream{srv: srv}, nil
}

func (n *NodeStream) Close() error { return n.srv.Close() }

// Recv returns the next neighbor node event.
func (n *NodeStream) Recv(ctx context.Context) (NodeEvent, error) {
	evt, err := n.srv.Recv(ctx)
	if err != nil {
		return NodeEvent{}, err
	}
	return NodeEvent{Node: evt.Service.Lower, Up: evt.Type == EventPublished}, nil
}

// LinkEvent reports a link to a neighbor node coming up or going down,
// identified by the pair of bearer ids packed into the publishing
// socket's port (spec.md §3's link-event projection).
type LinkEvent struct {
	LocalBearerID uint32
	PeerBearerID  uint32
	Neighbor      uint32
	Up            bool
}

// LinkStream is the subscription-backed projection of topology events
// onto link state.
type LinkStream struct {
	srv *Server
}

// NeighborLinks subscribes to every binding of the link-state service
// and returns a stream of LinkEvent.
func NeighborLinks(ctx context.Context, scope tipc.Scope) (*LinkStream, error) {
	srv, err := Connect(ctx, scope)
	if err != nil {
		return nil, err
	}

	sub := Subscription{
		Service: tipc.ServiceRangeFull(linkState),
		Filter:  FilterPorts,
	}
	if err := srv.Subscribe(ctx, sub); err != nil {
		srv.Close()
		return nil, err
	}

	return &LinkStream{srv: srv}, nil
}

func (l *LinkStream) Close() error { return l.srv.Close() }

// Recv returns the next neighbor link event.
func (l *LinkStream) Recv(ctx context.Context) (LinkEvent, error) {
	evt, err := l.srv.Recv(ctx)
	if err != nil {
		return LinkEvent{}, err
	}
	return projectLink(evt), nil
}

// projectLink extracts the bearer-id pair packed into evt.Sock.Port
// (spec.md §3: local_bearer_id = port & 0xFFFF, peer_bearer_id =
// (port >> 16) & 0xFFFF).
func projectLink(evt Event) LinkEvent {
	return LinkEvent{
		LocalBearerID: evt.Sock.Port & 0xFFFF,
		PeerBearerID:  (evt.Sock.Port >> 16) & 0xFFFF,
		Neighbor:      evt.Service.Lower,
		Up:            evt.Type == EventPublished,
	}
}
