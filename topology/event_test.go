package topology

import (
	"encoding/binary"
	"testing"

	tipc "github.com/flier/go-tipc"
)

func TestSubscriptionEncoding(t *testing.T) {
	sub := Subscription{
		Service:  tipc.ServiceRange{Type: 18888, Lower: 17, Upper: 17},
		Filter:   FilterService,
		UserData: 0x0102030405060708,
	}

	b := sub.marshal()
	if len(b) != subscriptionWireSize {
		t.Fatalf("marshal: got %d bytes, want %d", len(b), subscriptionWireSize)
	}

	if got := nativeEndian.Uint32(b[16:]); got != uint32(FilterService) {
		t.Fatalf("filter: got %d, want %d", got, FilterService)
	}
	if got := nativeEndian.Uint32(b[12:]); got != foreverTimeout {
		t.Fatalf("timeout: got %#x, want %#x", got, foreverTimeout)
	}
	if got := nativeEndian.Uint64(b[20:]); got != sub.UserData {
		t.Fatalf("userdata: got %#x, want %#x", got, sub.UserData)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	sub := Subscription{
		Service: tipc.ServiceRange{Type: 1, Lower: 2, Upper: 3},
		Filter:  FilterPorts,
	}

	orig := sub.marshal()
	cancelled := sub.cancelOf().marshal()

	if len(orig) != len(cancelled) {
		t.Fatalf("cancel record length differs: %d vs %d", len(orig), len(cancelled))
	}

	for i := range orig {
		if i >= 16 && i < 20 {
			continue // filter word, expected to differ by the cancel bit
		}
		if orig[i] != cancelled[i] {
			t.Fatalf("cancel record byte %d differs outside the filter word: %d vs %d", i, orig[i], cancelled[i])
		}
	}

	gotFilter := Filter(nativeEndian.Uint32(cancelled[16:]))
	if gotFilter != sub.Filter|filterCancel {
		t.Fatalf("cancel filter: got %d, want %d", gotFilter, sub.Filter|filterCancel)
	}
}

func TestEventDecoding(t *testing.T) {
	b := make([]byte, eventWireSize)
	nativeEndian.PutUint32(b[0:], uint32(EventPublished))
	nativeEndian.PutUint32(b[4:], 20)  // found_lower
	nativeEndian.PutUint32(b[8:], 29)  // found_upper
	nativeEndian.PutUint32(b[12:], 42) // port.ref
	nativeEndian.PutUint32(b[16:], 7)  // port.node
	nativeEndian.PutUint32(b[20:], 18888)
	nativeEndian.PutUint32(b[24:], 0)
	nativeEndian.PutUint32(b[28:], ^uint32(0))
	nativeEndian.PutUint32(b[32:], foreverTimeout)
	nativeEndian.PutUint32(b[36:], uint32(FilterPorts))
	nativeEndian.PutUint64(b[40:], 99)

	evt, err := unmarshalEvent(b)
	if err != nil {
		t.Fatalf("unmarshalEvent: %v", err)
	}

	if evt.Type != EventPublished {
		t.Fatalf("Type: got %v, want Published", evt.Type)
	}
	want := tipc.ServiceRange{Type: 18888, Lower: 20, Upper: 29}
	if evt.Service != want {
		t.Fatalf("Service: got %+v, want %+v", evt.Service, want)
	}
	if evt.Sock.Port != 42 || evt.Sock.Node != 7 {
		t.Fatalf("Sock: got %+v, want port=42 node=7", evt.Sock)
	}
}

func TestEventDecodingShort(t *testing.T) {
	if _, err := unmarshalEvent(make([]byte, eventWireSize-1)); err == nil {
		t.Fatal("unmarshalEvent: expected error for short record, got nil")
	}
}

func TestEventWireSizes(t *testing.T) {
	if subscriptionWireSize != 28 {
		t.Fatalf("subscriptionWireSize = %d, want 28", subscriptionWireSize)
	}
	if eventWireSize != 48 {
		t.Fatalf("eventWireSize = %d, want 48", eventWireSize)
	}
	if binary.Size(uint64(0)) != 8 {
		t.Fatal("sanity check failed")
	}
}
