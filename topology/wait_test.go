package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	tipc "github.com/flier/go-tipc"
)

func TestWaitObservesPublish(t *testing.T) {
	service := tipc.NewServiceAddr(18888, 17)

	resultCh := make(chan error, 1)
	go func() {
		ok, err := Wait(context.Background(), service, tipc.Global, time.Second)
		if err != nil {
			resultCh <- err
			return
		}
		if !ok {
			resultCh <- errWaitFalse
			return
		}
		resultCh <- nil
	}()

	time.Sleep(50 * time.Millisecond)

	b, err := tipc.NewDatagram()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}
	bound, err := b.Bind(tipc.BindOne(service.Range(), tipc.VisibilityCluster))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer bound.Close()

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestWaitTimesOut(t *testing.T) {
	service := tipc.NewServiceAddr(18889, 99)

	_, err := Wait(context.Background(), service, tipc.Global, 200*time.Millisecond)
	if skipIfUnsupported(t, err) {
		return
	}
	if _, ok := err.(*TimedOut); !ok {
		t.Fatalf("Wait: got err %v (%T), want *TimedOut", err, err)
	}
}

var errWaitFalse = errors.New("wait: expected true, got false")
