package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: BroadcastCreated, Data: int64(7)})
	b.Publish(Event{Type: BroadcastRetired, Data: int64(7)})

	if e := <-a; e.Type != BroadcastCreated || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
	select {
	case e := <-a:
		t.Fatalf("full subscriber should have dropped, got %+v", e)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("second subscriber got %d events, want 2", len(c))
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d", b.Dropped())
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: MailingSent})
}

func TestSubscribeFiltersTopics(t *testing.T) {
	b := New()
	acks, unsub := b.Subscribe(4, BroadcastAcknowledged)
	defer unsub()

	b.Publish(Event{Type: BroadcastCreated})
	b.Publish(Event{Type: BroadcastAcknowledged, Data: "u1"})
	b.Publish(Event{Type: MailingSent})

	if len(acks) != 1 {
		t.Fatalf("got %d events, want 1", len(acks))
	}
	if e := <-acks; e.Data != "u1" {
		t.Fatalf("event = %+v", e)
	}
	if b.Dropped() != 0 {
		t.Fatalf("filtered events must not count as dropped: %d", b.Dropped())
	}
}
