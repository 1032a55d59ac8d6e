package topology

import (
	"context"
	"fmt"
	"sync"

	tipc "github.com/flier/go-tipc"
)

// topSrv is the well-known topology service (1,1): TIPC_TOP_SRV both as
// type and instance.
const topSrv = 1

var topologyService = tipc.ServiceAddr{Type: topSrv, Instance: topSrv}

// SubscribeFailed reports a partial write of a subscription or
// cancellation record: spec.md §9 treats this as fatal rather than
// retryable, since a half-written 28-byte record leaves the server's
// framing unrecoverable.
type SubscribeFailed struct {
	Want int
	Got  int
}

func (e *SubscribeFailed) Error() string {
	return fmt.Sprintf("tipc: topology: partial subscribe write: wrote %d of %d bytes", e.Got, e.Want)
}

// TimedOut is returned by Recv when the server reports
// TIPC_SUBSCR_TIMEOUT for a subscription.
type TimedOut struct {
	Subscription Subscription
}

func (e *TimedOut) Error() string { return "tipc: topology: subscription timed out" }

// Server is a connection to the topology service.
type Server struct {
	conn *tipc.SeqPacketConn

	mu   sync.Mutex
	sent map[uint64][]byte // userdata -> raw subscription bytes sent; Unsubscribe removes the entry
}

// Connect opens a connection to the topology server at the given scope
// (spec.md §4.F).
func Connect(ctx context.Context, scope tipc.Scope) (*Server, error) {
	b, err := tipc.NewSeqPacket()
	if err != nil {
		return nil, err
	}

	conn, err := b.Connect(ctx, scope, topologyService)
	if err != nil {
		return nil, err
	}

	return &Server{conn: conn, sent: make(map[uint64][]byte)}, nil
}

// Close closes the connection to the server.
func (s *Server) Close() error { return s.conn.Close() }

// Subscribe sends sub to the server. The send is atomic: a short write
// is reported as SubscribeFailed rather than silently truncated.
func (s *Server) Subscribe(ctx context.Context, sub Subscription) error {
	b := sub.marshal()
	n, err := s.conn.Send(ctx, b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return &SubscribeFailed{Want: len(b), Got: n}
	}

	s.mu.Lock()
	s.sent[sub.UserData] = b
	s.mu.Unlock()

	return nil
}

// Unsubscribe cancels a prior subscription: spec.md §4.F requires the
// cancellation record to be a byte-for-byte copy of the original
// subscription with the cancel bit set, which cancelOf produces.
func (s *Server) Unsubscribe(ctx context.Context, sub Subscription) error {
	b := sub.cancelOf().marshal()

	n, err := s.conn.Send(ctx, b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return &SubscribeFailed{Want: len(b), Got: n}
	}

	s.mu.Lock()
	delete(s.sent, sub.UserData)
	s.mu.Unlock()

	return nil
}

// Recv reads exactly one event. A TIPC_SUBSCR_TIMEOUT record is reported
// as a *TimedOut error rather than a successful Event, per spec.md §7.
func (s *Server) Recv(ctx context.Context) (Event, error) {
	buf := make([]byte, eventWireSize)

	n, err := s.conn.Recv(ctx, buf)
	if err != nil {
		return Event{}, err
	}
	if n != eventWireSize {
		return Event{}, &tipc.ProtocolError{
			Op:  "topology recv",
			Msg: fmt.Sprintf("short event record: got %d bytes, want %d", n, eventWireSize),
		}
	}

	evt, err := unmarshalEvent(buf)
	if err != nil {
		return Event{}, err
	}
	if evt.Type.isTimeout() {
		return Event{}, &TimedOut{Subscription: evt.Subscription}
	}
	if evt.Type != EventPublished && evt.Type != EventWithdrawn {
		return Event{}, &tipc.ProtocolError{Op: "topology recv", Msg: fmt.Sprintf("unexpected event code %d", uint32(evt.Type))}
	}

	return evt, nil
}
