package mem

import (
	"bytes"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/transport/base"
	"net"
	"testing"
	"time"
)

type received struct {
	from string
	data []byte
}

func listen(t *testing.T, n *Network, addr string) (*memTransport, chan received) {
	t.Helper()
	ch := make(chan received, 16)
	tr := n.Transport(addr).(*memTransport)
	tr.RegisterHandlers(
		func(from net.Addr, data []byte) {
			ch <- received{from: from.String(), data: data}
		},
		func(conn net.Conn) {
			base.ServeFrames(conn, 1024, func(data []byte) {
				ch <- received{from: conn.RemoteAddr().String(), data: data}
			})
		},
	)
	if err := tr.Listen(common.TransportConfig{MaxPacketSize: 64}); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, ch
}

func expect(t *testing.T, ch chan received, from string, data []byte) {
	t.Helper()
	select {
	case r := <-ch:
		if r.from != from || !bytes.Equal(r.data, data) {
			t.Fatalf("got %q from %s, want %q from %s", r.data, r.from, data, from)
		}
	case <-time.After(time.Second):
		t.Fatalf("nothing received, want %q", data)
	}
}

func expectNothing(t *testing.T, ch chan received) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected delivery %q from %s", r.data, r.from)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPacketDelivery(t *testing.T) {
	n := NewNetwork(1)
	a, _ := listen(t, n, "a:1")
	_, chB := listen(t, n, "b:1")

	if err := a.SendPacket("b:1", []byte("hello")); err != nil {
		t.Fatalf("SendPacket failed: %v", err)
	}
	expect(t, chB, "a:1", []byte("hello"))

	// unknown destinations are dropped silently
	if err := a.SendPacket("c:1", []byte("void")); err != nil {
		t.Fatalf("SendPacket to unknown address failed: %v", err)
	}
	if n.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", n.Dropped())
	}

	// oversized packets are rejected
	if err := a.SendPacket("b:1", make([]byte, 65)); err == nil {
		t.Error("expected error for oversized packet")
	}
}

func TestPacketDataIsCopied(t *testing.T) {
	n := NewNetwork(1)
	a, _ := listen(t, n, "a:1")
	_, chB := listen(t, n, "b:1")

	data := []byte("abc")
	if err := a.SendPacket("b:1", data); err != nil {
		t.Fatalf("SendPacket failed: %v", err)
	}
	data[0] = 'x'
	expect(t, chB, "a:1", []byte("abc"))
}

func TestFilterAndLoss(t *testing.T) {
	n := NewNetwork(1)
	a, _ := listen(t, n, "a:1")
	_, chB := listen(t, n, "b:1")

	n.SetFilter(func(from, to string, data []byte) bool {
		return data[0] != 'x'
	})
	_ = a.SendPacket("b:1", []byte("x1"))
	_ = a.SendPacket("b:1", []byte("y1"))
	expect(t, chB, "a:1", []byte("y1"))
	expectNothing(t, chB)

	n.SetFilter(nil)
	n.SetLoss(1, 0)
	_ = a.SendPacket("b:1", []byte("lost"))
	expectNothing(t, chB)

	n.SetLoss(0, 1)
	_ = a.SendPacket("b:1", []byte("dup"))
	expect(t, chB, "a:1", []byte("dup"))
	expect(t, chB, "a:1", []byte("dup"))
}

func TestStreams(t *testing.T) {
	n := NewNetwork(1)
	a, _ := listen(t, n, "a:1")
	_, chB := listen(t, n, "b:1")

	conn, err := a.Dial("b:1")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if conn.RemoteAddr().String() != "b:1" || conn.LocalAddr().String() != "a:1" {
		t.Errorf("conn addresses = %s -> %s, want a:1 -> b:1", conn.LocalAddr(), conn.RemoteAddr())
	}

	big := bytes.Repeat([]byte("0123456789"), 1000)
	for i := 0; i < 3; i++ {
		if err := base.WriteFrame(conn, big, 512, time.Second); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
		expect(t, chB, "a:1", big)
	}

	if _, err := a.Dial("c:1"); err == nil {
		t.Error("expected error dialing unknown address")
	}
}

func TestCloseReleasesAddress(t *testing.T) {
	n := NewNetwork(1)
	a, _ := listen(t, n, "a:1")

	dup := n.Transport("a:1")
	dup.RegisterHandlers(func(net.Addr, []byte) {}, func(c net.Conn) { c.Close() })
	if err := dup.Listen(common.TransportConfig{}); err == nil {
		t.Fatal("expected error listening on a used address")
	}

	a.Close()
	if err := a.SendPacket("b:1", []byte("x")); err == nil {
		t.Error("expected error sending on a closed transport")
	}
	if err := dup.Listen(common.TransportConfig{}); err != nil {
		t.Errorf("Listen after Close failed: %v", err)
	}
	dup.Close()
}
