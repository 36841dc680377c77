package overlay

import (
	"net"
	"testing"
	"time"
)

func TestPacketConnRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	pcA := newPacketConn(a, "peer-b")
	pcB := newPacketConn(b, "peer-a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 64)
		n, addr, err := pcB.ReadFrom(buf)
		if err != nil {
			t.Errorf("ReadFrom: %v", err)
			return
		}
		if string(buf[:n]) != "hello" {
			t.Errorf("got %q, want hello", buf[:n])
		}
		if addr.String() != "peer-a" {
			t.Errorf("got addr %q, want peer-a (the label pcB was constructed with)", addr)
		}
	}()

	if _, err := pcA.WriteTo([]byte("hello"), nil); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the read side")
	}
}

func TestPeerAddrIsStable(t *testing.T) {
	addr := peerAddr{label: "abc123"}
	if addr.String() != "abc123" {
		t.Fatalf("got %q, want abc123", addr.String())
	}
	if addr.Network() != "ice" {
		t.Fatalf("got network %q, want ice", addr.Network())
	}
}
