package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	b.Publish(Event{Kind: "channel.connected", Timestamp: time.Now(), Payload: "chat"})

	select {
	case evt := <-ch:
		if evt.Kind != "channel.connected" {
			t.Errorf("got kind %q, want channel.connected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notify.", 10)
	defer unsub()

	b.Publish(Event{Kind: "chat.message_received"})
	b.Publish(Event{Kind: "notify.added"})

	select {
	case evt := <-ch:
		if evt.Kind != "notify.added" {
			t.Errorf("got kind %q, want notify.added", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the chat event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	before := time.Now()
	b.Emit("presence.changed", 3)

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v is before publish time %v", evt.Timestamp, before)
	}
	if evt.Payload.(int) != 3 {
		t.Errorf("payload = %v, want 3", evt.Payload)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("channel.", 10)
	unsub()

	b.Publish(Event{Kind: "channel.connected"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
