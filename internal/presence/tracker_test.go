package presence

import (
	"encoding/json"
	"testing"

	"lostlink/internal/bus"
	"lostlink/internal/channel"
)

func TestSnapshotReplacesSet(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetAll([]string{"a", "b"})

	if !tr.IsOnline("a") || !tr.IsOnline("b") {
		t.Error("a and b should be online after snapshot")
	}

	// A later snapshot replaces wholesale, not merges.
	tr.SetAll([]string{"c"})
	if tr.IsOnline("a") {
		t.Error("a should be offline after replacing snapshot")
	}
	if !tr.IsOnline("c") {
		t.Error("c should be online")
	}
}

func TestDelta(t *testing.T) {
	tr := NewTracker(nil)
	tr.Update("a", true)
	if !tr.IsOnline("a") {
		t.Error("a should be online after delta")
	}
	tr.Update("a", false)
	if tr.IsOnline("a") {
		t.Error("a should be offline after delta")
	}
	// Offline delta for an unknown id is a no-op.
	tr.Update("ghost", false)
	if tr.IsOnline("ghost") {
		t.Error("ghost should not be online")
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetAll([]string{"a", "b"})
	tr.Clear()
	if tr.IsOnline("a") || tr.IsOnline("b") {
		t.Error("Clear() should drop all presence state")
	}
}

func TestPublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	tr := NewTracker(b)
	tr.Update("a", true)

	evt := <-ch
	if evt.Kind != "presence.changed" {
		t.Errorf("kind = %q, want presence.changed", evt.Kind)
	}
	if evt.Payload.(int) != 1 {
		t.Errorf("payload = %v, want 1", evt.Payload)
	}
}

// fakeChannel records handler registrations for Bind tests.
type fakeChannel struct {
	handlers map[string]channel.Handler
}

func (f *fakeChannel) On(event, id string, fn channel.Handler) string {
	f.handlers[event] = fn
	return id
}

func TestBind(t *testing.T) {
	f := &fakeChannel{handlers: make(map[string]channel.Handler)}
	tr := NewTracker(nil)
	tr.Bind(f)

	f.handlers[channel.EventOnlineUsers](json.RawMessage(`["u1","u2"]`))
	if !tr.IsOnline("u1") || !tr.IsOnline("u2") {
		t.Error("snapshot via channel handler not applied")
	}

	f.handlers[channel.EventUserStatusChanged](json.RawMessage(`{"userId":"u1","isOnline":false}`))
	if tr.IsOnline("u1") {
		t.Error("delta via channel handler not applied")
	}

	// Malformed payloads are ignored, not fatal.
	f.handlers[channel.EventOnlineUsers](json.RawMessage(`{oops`))
	if !tr.IsOnline("u2") {
		t.Error("malformed snapshot must not clobber state")
	}
}
