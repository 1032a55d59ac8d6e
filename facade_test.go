package tipc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"golang.org/x/net/nettest"
	"golang.org/x/sync/errgroup"
)

func pipemaker() (c1, c2 net.Conn, stop func(), err error) {
	b, err := NewStream()
	if err != nil {
		return nil, nil, nil, err
	}
	bound, err := b.Bind(BindOne(NewServiceAddr(9999, 9999).Range(), VisibilityCluster))
	if err != nil {
		return nil, nil, nil, err
	}
	listener, err := bound.Listen(1)
	if err != nil {
		return nil, nil, nil, err
	}

	ready := make(chan struct{})
	var acceptErr error
	var server *StreamConn
	go func() {
		server, _, acceptErr = listener.Accept(context.Background())
		close(ready)
	}()

	clientB, err := NewStream()
	if err != nil {
		listener.Close()
		return nil, nil, nil, err
	}
	client, err := clientB.Connect(context.Background(), Global, NewServiceAddr(9999, 9999))
	if err != nil {
		listener.Close()
		return nil, nil, nil, err
	}

	<-ready
	if acceptErr != nil {
		listener.Close()
		client.Close()
		return nil, nil, nil, acceptErr
	}

	stop = func() {
		listener.Close()
		client.Close()
		server.Close()
	}

	return NetConn(client), NetConn(server), stop, nil
}

func TestNetConn(t *testing.T) {
	_, _, stop, err := pipemaker()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("pipemaker: %v", err)
	}
	stop()

	nettest.TestConn(t, pipemaker)
}

func TestHelloExchangeDatagram(t *testing.T) {
	serverB, err := NewDatagram()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewDatagram (server): %v", err)
	}

	server, err := serverB.Bind(bindOne{Range: NewServiceAddr(18888, 17).Range(), Visibility: VisibilityCluster})
	if err != nil {
		t.Fatalf("server.Bind: %v", err)
	}
	defer server.Close()

	clientB, err := NewDatagram()
	if err != nil {
		t.Fatalf("NewDatagram (client): %v", err)
	}
	client, err := clientB.Bind()
	if err != nil {
		t.Fatalf("client.Bind: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		buf := make([]byte, 64)
		res, peer, err := server.RecvFrom(ctx, buf)
		if err != nil {
			return err
		}
		if res.N != len("Hello World!!!") {
			t.Errorf("server recv_from: got %d bytes, want 14", res.N)
		}
		_, err = server.SendTo(ctx, []byte("Uh ?"), peer)
		return err
	})

	if _, err := client.SendTo(ctx, []byte("Hello World!!!"), NewServiceAddr(18888, 17)); err != nil {
		t.Fatalf("client.SendTo: %v", err)
	}

	buf := make([]byte, 64)
	n, err := client.Recv(ctx, buf)
	if err != nil {
		t.Fatalf("client.Recv: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("Uh ?")) {
		t.Fatalf("client.Recv: got %q, want %q", buf[:n], "Uh ?")
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamFramedExchange(t *testing.T) {
	listenerB, err := NewStream()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	bound, err := listenerB.Bind(bindOne{Range: NewServiceAddr(18888, 17).Range(), Visibility: VisibilityCluster})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	listener, err := bound.Listen(1)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const records = 120

	var g errgroup.Group
	g.Go(func() error {
		conn, _, err := listener.Accept(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		for i := 1; i <= records; i++ {
			size := i
			frame := make([]byte, size)
			for j := range frame {
				frame[j] = byte(size)
			}
			if err := conn.ReadExact(frame); err != nil {
				return err
			}
			for j, b := range frame {
				if b != byte(size) {
					t.Errorf("record %d byte %d: got %d, want %d", i, j, b, size)
				}
			}
			if _, err := conn.Write([]byte{1}); err != nil {
				return err
			}
		}
		return nil
	})

	clientB, err := NewStream()
	if err != nil {
		t.Fatalf("NewStream (client): %v", err)
	}
	conn, err := clientB.Connect(ctx, Global, NewServiceAddr(18888, 17))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	for i := 1; i <= records; i++ {
		size := i
		frame := make([]byte, size)
		for j := range frame {
			frame[j] = byte(size)
		}
		for off := 0; off < len(frame); off += 80 {
			end := off + 80
			if end > len(frame) {
				end = len(frame)
			}
			if _, err := conn.Write(frame[off:end]); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
	}

	acks := make([]byte, records)
	if err := conn.ReadExact(acks); err != nil {
		t.Fatalf("read_exact(acks): %v", err)
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestMulticast(t *testing.T) {
	ranges := []ServiceRange{
		{Type: 4711, Lower: 0, Upper: 99},
		{Type: 4711, Lower: 100, Upper: 199},
		{Type: 4711, Lower: 200, Upper: 299},
	}

	servers := make([]*DatagramBound, len(ranges))
	for i, r := range ranges {
		b, err := NewDatagram()
		if skipIfUnsupported(t, err) {
			return
		}
		if err != nil {
			t.Fatalf("NewDatagram[%d]: %v", i, err)
		}
		bound, err := b.Bind(bindOne{Range: r, Visibility: VisibilityCluster})
		if err != nil {
			t.Fatalf("bind[%d]: %v", i, err)
		}
		defer bound.Close()
		servers[i] = bound
	}

	clientB, err := NewDatagram()
	if err != nil {
		t.Fatalf("NewDatagram (client): %v", err)
	}
	client, err := clientB.Bind()
	if err != nil {
		t.Fatalf("client.Bind: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	for i, expectReceive := range []bool{false, true, true} {
		i, expectReceive := i, expectReceive
		g.Go(func() error {
			if !expectReceive {
				return nil
			}
			buf := make([]byte, 16)
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			res, _, err := servers[i].RecvFrom(ctx, buf)
			if err != nil {
				return err
			}
			if res.N == 0 {
				t.Errorf("server[%d]: empty payload", i)
			}
			return nil
		})
	}

	if _, err := client.SendTo(ctx, []byte("multicast"), ServiceRange{Type: 4711, Lower: 150, Upper: 250}); err != nil {
		t.Fatalf("multicast send: %v", err)
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestRejectedDatagram(t *testing.T) {
	senderB, err := NewDatagram()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}

	sender, err := senderB.Bind()
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer sender.Close()

	if err := sender.SetRejectable(true); err != nil {
		t.Fatalf("SetRejectable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := sender.SendTo(ctx, []byte("nobody home"), NewServiceAddr(99999, 1)); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, 64)
	res, _, err := sender.RecvFrom(ctx, buf)
	if err == nil {
		t.Fatalf("RecvFrom: expected Rejected error, got result %+v", res)
	}
	rej, ok := err.(*RejectedError)
	if !ok {
		t.Fatalf("RecvFrom: got error %v (%T), want *RejectedError", err, err)
	}
	if rej.Code == 0 {
		t.Fatalf("RejectedError.Code = 0, want nonzero")
	}
}

func TestGroupMembership(t *testing.T) {
	service := NewServiceAddr(5555, 1)

	aB, err := NewDatagram()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewDatagram a: %v", err)
	}
	aBound, err := aB.Bind()
	if err != nil {
		t.Fatalf("a.Bind: %v", err)
	}

	bB, err := NewDatagram()
	if err != nil {
		t.Fatalf("NewDatagram b: %v", err)
	}
	bBound, err := bB.Bind()
	if err != nil {
		t.Fatalf("b.Bind: %v", err)
	}

	a, err := aBound.Join(service, VisibilityCluster, GroupMemberEvents)
	if err != nil {
		t.Fatalf("a.Join: %v", err)
	}
	defer a.Close()

	b, err := bBound.Join(service, VisibilityCluster, GroupMemberEvents)
	if err != nil {
		t.Fatalf("b.Join: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		evt, err := a.Recv(ctx, make([]byte, 16))
		if err != nil {
			return err
		}
		if evt.Kind != GroupMemberJoin {
			t.Errorf("a.Recv: got kind %d, want MemberJoin", evt.Kind)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	g = errgroup.Group{}
	g.Go(func() error {
		evt, err := a.Recv(ctx, make([]byte, 16))
		if err != nil {
			return err
		}
		if evt.Kind != GroupMemberLeave {
			t.Errorf("a.Recv: got kind %d, want MemberLeave", evt.Kind)
		}
		return nil
	})

	if err := b.Close(); err != nil {
		t.Fatalf("b.Close: %v", err)
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestGroupLeaveReturnsUsableSocket(t *testing.T) {
	b, err := NewDatagram()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewDatagram: %v", err)
	}
	bound, err := b.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	group, err := bound.Join(NewServiceAddr(5556, 1), VisibilityCluster, 0)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	sock, err := group.Leave()
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	defer sock.Close()

	if _, err := sock.LocalAddr(); err != nil {
		t.Fatalf("socket returned by Leave is unusable: LocalAddr: %v", err)
	}

	if _, err := group.Leave(); !errors.Is(err, errConsumed) {
		t.Fatalf("second Leave: got %v, want errConsumed", err)
	}
}

func TestBoundMethodsRejectAfterTransition(t *testing.T) {
	b, err := NewStream()
	if skipIfUnsupported(t, err) {
		return
	}
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	bound, err := b.Bind(bindOne{Range: NewServiceAddr(18889, 17).Range(), Visibility: VisibilityCluster})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	listener, err := bound.Listen(1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	if _, err := bound.LocalAddr(); !errors.Is(err, errConsumed) {
		t.Fatalf("LocalAddr after Listen: got %v, want errConsumed", err)
	}
	if err := bound.Bind(); !errors.Is(err, errConsumed) {
		t.Fatalf("Bind after Listen: got %v, want errConsumed", err)
	}
	if err := bound.Unbind(); !errors.Is(err, errConsumed) {
		t.Fatalf("Unbind after Listen: got %v, want errConsumed", err)
	}
}
