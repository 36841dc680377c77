package pairing

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/long113112113/p2p-transfer/internal/bus"
	"github.com/long113112113/p2p-transfer/internal/identity"
	"github.com/long113112113/p2p-transfer/internal/protocol"
)

func newStore(t *testing.T) *identity.Store {
	t.Helper()
	return identity.NewStore(t.TempDir())
}

// TestFirstTimePairSucceeds exercises scenario S1: an unpaired sender and
// receiver complete the verification-code dialog and end up paired.
func TestFirstTimePairSucceeds(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	store := newStore(t)
	b := bus.New()
	codeCh := make(chan string, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunSender(context.Background(), clientConn, "aaaa", "sender-name", codeCh, b)
	}()

	req, err := protocol.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("reading PairingRequest: %v", err)
	}
	if req.Type != protocol.TypePairingRequest {
		t.Fatalf("got %s, want PairingRequest", req.Type)
	}

	pairedCh := make(chan bool, 1)
	recvErrCh := make(chan error, 1)
	go func() {
		paired, err := RunReceiver(context.Background(), serverConn, req, Deps{Store: store, Bus: b, Timeout: 5 * time.Second})
		pairedCh <- paired
		recvErrCh <- err
	}()

	var code string
	select {
	case e := <-b.Events:
		if e.Kind != bus.EventShowVerificationCode {
			t.Fatalf("got event %v, want ShowVerificationCode", e.Kind)
		}
		code = e.Code
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ShowVerificationCode event")
	}

	select {
	case e := <-b.Events:
		if e.Kind != bus.EventRequestVerificationCode {
			t.Fatalf("got event %v, want RequestVerificationCode", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RequestVerificationCode event")
	}
	codeCh <- code

	if err := <-errCh; err != nil {
		t.Fatalf("RunSender returned error: %v", err)
	}
	if !<-pairedCh {
		t.Fatal("expected receiver to report paired=true")
	}
	if err := <-recvErrCh; err != nil {
		t.Fatalf("RunReceiver returned error: %v", err)
	}

	paired, err := store.IsPaired("aaaa")
	if err != nil {
		t.Fatalf("IsPaired: %v", err)
	}
	if !paired {
		t.Fatal("expected store to record the new pairing")
	}
}

// TestAlreadyPairedSkipsVerification exercises scenario S2: a previously
// paired endpoint is accepted immediately, with no code dialog at all.
func TestAlreadyPairedSkipsVerification(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	store := newStore(t)
	if err := store.AddPairing("bbbb", "known-peer"); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	b := bus.New()

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunSender(context.Background(), clientConn, "bbbb", "known-peer", nil, b)
	}()

	req, err := protocol.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("reading PairingRequest: %v", err)
	}

	paired, err := RunReceiver(context.Background(), serverConn, req, Deps{Store: store, Bus: b, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("RunReceiver: %v", err)
	}
	if !paired {
		t.Fatal("expected already-paired endpoint to be accepted")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("RunSender returned error: %v", err)
	}

	select {
	case e := <-b.Events:
		t.Fatalf("expected no verification events for an already-paired peer, got %v", e.Kind)
	default:
	}
}

// TestWrongCodeIsRejected exercises scenario S3.
func TestWrongCodeIsRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	store := newStore(t)
	b := bus.New()
	codeCh := make(chan string, 1)
	codeCh <- "0000" // guaranteed wrong unless colliding, handled below

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunSender(context.Background(), clientConn, "cccc", "sender-name", codeCh, b)
	}()

	req, err := protocol.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("reading PairingRequest: %v", err)
	}

	paired, err := RunReceiver(context.Background(), serverConn, req, Deps{Store: store, Bus: b, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("RunReceiver: %v", err)
	}

	var code string
	select {
	case e := <-b.Events:
		code = e.Code
	default:
	}
	if code == "0000" {
		t.Skip("generated code collided with the deliberately-wrong guess")
	}
	if paired {
		t.Fatal("expected mismatched code to leave the peer unpaired")
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected RunSender to report rejection")
	}

	still, err := store.IsPaired("cccc")
	if err != nil {
		t.Fatalf("IsPaired: %v", err)
	}
	if still {
		t.Fatal("expected no pairing to be recorded after a failed verification")
	}
}

// TestSlotCapRejectsFourthDialog exercises the process-wide concurrency cap:
// three in-flight dialogs exhaust every slot, a fourth is rejected
// immediately, and releasing one lets a new dialog through.
func TestSlotCapRejectsFourthDialog(t *testing.T) {
	var guards []*SlotGuard
	for i := 0; i < MaxConcurrentDialogs; i++ {
		g, ok := acquireSlot()
		if !ok {
			t.Fatalf("expected slot %d to be available", i)
		}
		guards = append(guards, g)
	}

	if _, ok := acquireSlot(); ok {
		t.Fatal("expected the slot cap to reject a fourth concurrent dialog")
	}

	guards[0].Release()
	guards[0].Release() // double release must stay a no-op

	refilled, ok := acquireSlot()
	if !ok {
		t.Fatal("expected a slot to free up after Release")
	}

	refilled.Release()
	for _, g := range guards[1:] {
		g.Release()
	}
}
