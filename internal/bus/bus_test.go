package bus

import "testing"

func TestEmitNeverBlocksWhenFull(t *testing.T) {
	b := &Bus{Events: make(chan Event, 1), Commands: make(chan Command, 1)}
	b.Emit(Event{Kind: EventTransferProgress, Percent: 1})
	// Channel is now full; a second Emit must not block the test.
	done := make(chan struct{})
	go func() {
		b.Emit(Event{Kind: EventTransferProgress, Percent: 2})
		close(done)
	}()
	<-done
	if len(b.Events) != 1 {
		t.Fatalf("expected the original event to survive a dropped overflow, got len=%d", len(b.Events))
	}
}

func TestWaitersDeliverRoundTrip(t *testing.T) {
	w := NewWaiters[string]()
	ch := w.Register("req-1")

	if !w.Deliver("req-1", "accepted") {
		t.Fatal("expected Deliver to find the registered waiter")
	}
	if got := <-ch; got != "accepted" {
		t.Fatalf("got %q, want %q", got, "accepted")
	}
	if w.Deliver("req-1", "accepted") {
		t.Fatal("expected second Deliver for the same id to report no waiter")
	}
}

func TestWaitersCancelRemovesRegistration(t *testing.T) {
	w := NewWaiters[bool]()
	w.Register("req-2")
	w.Cancel("req-2")
	if w.Deliver("req-2", true) {
		t.Fatal("expected Deliver after Cancel to report no waiter")
	}
}
