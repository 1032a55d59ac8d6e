package topology

import (
	"context"
	"time"

	tipc "github.com/flier/go-tipc"
)

// Wait is a single-shot helper that blocks until service is published or
// withdrawn, or timeout elapses (spec.md §4.F). It returns true on the
// first matching Published event, false on a matching Withdrawn, and
// propagates a *TimedOut error if timeout elapses first.
//
// When scope is a node scope rather than Global, events whose source
// socket is on a different node are ignored.
func Wait(ctx context.Context, service tipc.ServiceAddr, scope tipc.Scope, timeout time.Duration) (bool, error) {
	srv, err := Connect(ctx, scope)
	if err != nil {
		return false, err
	}
	defer srv.Close()

	sub := Subscription{
		Service: service.Range(),
		Filter:  FilterService,
		Timeout: timeout,
	}
	if err := srv.Subscribe(ctx, sub); err != nil {
		return false, err
	}

	for {
		evt, err := srv.Recv(ctx)
		if err != nil {
			return false, err
		}

		if !scope.IsGlobal() && evt.Sock.Node != scope.Node() {
			continue
		}

		switch evt.Type {
		case EventPublished:
			return true, nil
		case EventWithdrawn:
			return false, nil
		}
	}
}
