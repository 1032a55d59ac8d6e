// Package topology implements the TIPC topology server client (spec
// component F): a subscription protocol carried over a SOCK_SEQPACKET
// connection to the well-known service (1,1), producing a stream of
// binding-table change events, plus derived neighbor-node and
// neighbor-link projections.
package topology

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	tipc "github.com/flier/go-tipc"
)

// nativeEndian is the topology wire's byte order, same detection as the
// root package's (kept separate so this package has no dependency on
// tipc's unexported internals).
var nativeEndian = func() binary.ByteOrder {
	var probe uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&probe))
	if b[0] == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// Filter selects which bindings within a subscribed range generate
// events.
type Filter uint32

const (
	// FilterPorts (SUB_PORTS) reports every individual binding in the
	// range as it is published or withdrawn.
	FilterPorts Filter = 1
	// FilterService (SUB_SERVICE) reports only the first appearance and
	// last disappearance of any binding in the range.
	FilterService Filter = 2
	// filterCancel, ORed into a prior subscription's filter, revokes it.
	filterCancel Filter = 4
)

// foreverTimeout is the encoded Timeout value meaning "never expire".
const foreverTimeout = 0xFFFFFFFF

// Subscription requests a stream of events for service, with timeout
// bounding how long the subscription stays active (zero or negative means
// forever).
// UserData round-trips opaquely through every Event this subscription
// produces, for correlating events with their subscription.
type Subscription struct {
	Service  tipc.ServiceRange
	Filter   Filter
	Timeout  time.Duration
	UserData uint64

	cancel bool
}

const subscriptionWireSize = 28

// marshal encodes a subscription into the 28-byte tipc_subscr wire
// record (spec.md §7's wire format table): type, lower, upper,
// timeout_ms, filter, usr_handle[8].
func (s Subscription) marshal() []byte {
	b := make([]byte, subscriptionWireSize)

	nativeEndian.PutUint32(b[0:], s.Service.Type)
	nativeEndian.PutUint32(b[4:], s.Service.Lower)
	nativeEndian.PutUint32(b[8:], s.Service.Upper)

	if s.Timeout <= 0 {
		nativeEndian.PutUint32(b[12:], foreverTimeout)
	} else {
		nativeEndian.PutUint32(b[12:], uint32(s.Timeout.Milliseconds()))
	}

	filter := s.Filter
	if s.cancel {
		filter |= filterCancel
	}
	nativeEndian.PutUint32(b[16:], uint32(filter))

	nativeEndian.PutUint64(b[20:], s.UserData)

	return b
}

// cancelOf returns the byte-for-byte copy of s with the cancel bit set,
// as spec.md §4.F requires for unsubscribing.
func (s Subscription) cancelOf() Subscription {
	s.cancel = true
	return s
}

const eventWireSize = 48

// EventType is the tipc_event.event wire code.
type EventType uint32

const (
	EventPublished EventType = 1
	EventWithdrawn EventType = 2
	eventTimeout   EventType = 3
)

func (t EventType) String() string {
	switch t {
	case EventPublished:
		return "published"
	case EventWithdrawn:
		return "withdrawn"
	case eventTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("event(%d)", uint32(t))
	}
}

// Event is the decoded form of a tipc_event: a change observed for the
// range named in Subscription, narrowed to the actual found interval
// (which may be a subset of the subscribed range).
type Event struct {
	Type         EventType
	Service      tipc.ServiceRange
	Sock         tipc.SocketAddr
	Subscription Subscription
}

// unmarshalEvent decodes a 48-byte tipc_event record: event, found_lower,
// found_upper, port{ref,node}, subscription[28] (spec.md §7).
func unmarshalEvent(b []byte) (Event, error) {
	if len(b) != eventWireSize {
		return Event{}, fmt.Errorf("tipc: topology: short event record: got %d bytes, want %d", len(b), eventWireSize)
	}

	typ := EventType(nativeEndian.Uint32(b[0:]))
	found := tipc.ServiceRange{
		Lower: nativeEndian.Uint32(b[4:]),
		Upper: nativeEndian.Uint32(b[8:]),
	}
	sock := tipc.SocketAddr{
		Port: nativeEndian.Uint32(b[12:]),
		Node: nativeEndian.Uint32(b[16:]),
	}

	sub := Subscription{
		Service: tipc.ServiceRange{
			Type:  nativeEndian.Uint32(b[20:]),
			Lower: nativeEndian.Uint32(b[24:]),
			Upper: nativeEndian.Uint32(b[28:]),
		},
		Filter:   Filter(nativeEndian.Uint32(b[36:])),
		UserData: nativeEndian.Uint64(b[40:]),
	}
	if ms := nativeEndian.Uint32(b[32:]); ms != foreverTimeout {
		sub.Timeout = time.Duration(ms) * time.Millisecond
	}

	found.Type = sub.Service.Type

	return Event{Type: typ, Service: found, Sock: sock, Subscription: sub}, nil
}

func (e EventType) isTimeout() bool { return e == eventTimeout }
