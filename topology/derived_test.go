package topology

import (
	"testing"

	tipc "github.com/flier/go-tipc"
)

func TestProjectLink(t *testing.T) {
	evt := Event{
		Type:    EventPublished,
		Service: tipc.ServiceRange{Type: linkState, Lower: 7, Upper: 7},
		Sock:    tipc.SocketAddr{Port: 0x0002_0001, Node: 9},
	}

	link := projectLink(evt)
	if link.LocalBearerID != 1 {
		t.Errorf("LocalBearerID = %d, want 1", link.LocalBearerID)
	}
	if link.PeerBearerID != 2 {
		t.Errorf("PeerBearerID = %d, want 2", link.PeerBearerID)
	}
	if link.Neighbor != 7 {
		t.Errorf("Neighbor = %d, want 7", link.Neighbor)
	}
	if !link.Up {
		t.Error("Up = false, want true")
	}

	evt.Type = EventWithdrawn
	if projectLink(evt).Up {
		t.Error("Up = true for Withdrawn event, want false")
	}
}
