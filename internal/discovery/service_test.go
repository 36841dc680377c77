package discovery

import (
	"net"
	"testing"
	"time"
)

func TestServiceSelfFilter(t *testing.T) {
	s, err := NewService("AAA", "alice", 9000, 0)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer s.Close()
	s.Start()

	data, err := Encode(Message{Kind: KindRequest, EndpointID: "AAA", DisplayName: "alice", TransferPort: 9000})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Send the self-originated datagram from an independent socket to s's
	// own local address; the receive loop must drop it rather than emit
	// PeerFound or reply to itself.
	sender, err := net.DialUDP("udp4", nil, s.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Skipf("loopback udp unsupported in this environment: %v", err)
	}
	defer sender.Close()
	if _, err := sender.Write(data); err != nil {
		t.Fatalf("writing self-originated datagram: %v", err)
	}

	select {
	case ev := <-s.Events():
		t.Fatalf("expected self-originated message to be filtered, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServiceEmitsPeerFoundAndReplies(t *testing.T) {
	alice, err := NewService("AAA", "alice", 9000, 0)
	if err != nil {
		t.Fatalf("NewService(alice): %v", err)
	}
	defer alice.Close()
	alice.Start()

	aliceAddr := alice.conn.LocalAddr().(*net.UDPAddr)

	// A raw socket stands in for "bob": we send bob's DiscoveryRequest
	// straight to alice and confirm both that alice reports PeerFound and
	// that alice unicasts a DiscoveryResponse back.
	bobConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Skipf("loopback udp unsupported in this environment: %v", err)
	}
	defer bobConn.Close()

	req, err := Encode(Message{Kind: KindRequest, EndpointID: "BBB", DisplayName: "bob", TransferPort: 9001})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := bobConn.WriteToUDP(req, aliceAddr); err != nil {
		t.Fatalf("sending discovery request: %v", err)
	}

	select {
	case ev := <-alice.Events():
		if ev.EndpointID != "BBB" || ev.DisplayName != "bob" || ev.TransferPort != 9001 {
			t.Fatalf("unexpected peer-found event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PeerFound")
	}

	bobConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := bobConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("reading discovery response: %v", err)
	}
	resp, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if resp.Kind != KindResponse || resp.EndpointID != "AAA" {
		t.Fatalf("unexpected discovery response: %+v", resp)
	}
}
