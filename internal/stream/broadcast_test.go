package stream

import "testing"

func TestBroadcaster_SendDeliversToAllReceivers(t *testing.T) {
	b := newBroadcaster(4)
	r1 := b.subscribe()
	r2 := b.subscribe()

	b.send([]byte("hello"))

	f1, ok := r1.Recv()
	if !ok || string(f1) != "hello" {
		t.Fatalf("expected r1 to receive the frame, got %q ok=%v", f1, ok)
	}
	f2, ok := r2.Recv()
	if !ok || string(f2) != "hello" {
		t.Fatalf("expected r2 to receive the frame, got %q ok=%v", f2, ok)
	}
}

func TestBroadcaster_FullChannelDropsOldestAndRecordsLag(t *testing.T) {
	b := newBroadcaster(1)
	r := b.subscribe()

	b.send([]byte("first"))
	b.send([]byte("second"))

	if r.LaggedCount() != 1 {
		t.Fatalf("expected exactly one lagged frame, got %d", r.LaggedCount())
	}
	frame, ok := r.TryRecv()
	if ok != TryRecvOK || string(frame) != "second" {
		t.Fatalf("expected the receiver to hold only the newest frame, got %q ok=%v", frame, ok)
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := newBroadcaster(4)
	r := b.subscribe()
	r.Unsubscribe()

	// Must not panic or block sending to an unsubscribed receiver's
	// now-untracked channel.
	b.send([]byte("after unsubscribe"))

	_, result := r.TryRecv()
	if result != TryRecvEmpty {
		t.Fatalf("expected no frame to have been delivered after unsubscribe, got %v", result)
	}
}

func TestBroadcaster_CloseClosesAllReceiverChannels(t *testing.T) {
	b := newBroadcaster(4)
	r := b.subscribe()
	b.close()

	_, ok := r.Recv()
	if ok {
		t.Fatalf("expected Recv to report ok=false after close")
	}

	_, result := r.TryRecv()
	if result != TryRecvClosed {
		t.Fatalf("expected TryRecvClosed after close, got %v", result)
	}
}

func TestBroadcaster_SubscribeAfterCloseReturnsClosedReceiver(t *testing.T) {
	b := newBroadcaster(4)
	b.close()
	r := b.subscribe()

	_, ok := r.Recv()
	if ok {
		t.Fatalf("expected a receiver subscribed after close to see a closed channel")
	}
}
