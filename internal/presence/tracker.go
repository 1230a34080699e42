package presence

import (
	"sync"

	"lostlink/internal/bus"
)

// Tracker maintains the set of currently-online peer ids. Presence is
// ephemeral: it carries no persistence and is rebuilt wholesale from the
// next online_users snapshot after any reconnect.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	bus    *bus.Bus
}

// NewTracker creates an empty tracker.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		online: make(map[string]struct{}),
		bus:    b,
	}
}

// SetAll replaces the online set with a full snapshot.
func (t *Tracker) SetAll(ids []string) {
	t.mu.Lock()
	t.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.online[id] = struct{}{}
	}
	n := len(t.online)
	t.mu.Unlock()
	t.publish(n)
}

// Update applies a single peer-online / peer-offline delta.
func (t *Tracker) Update(id string, isOnline bool) {
	t.mu.Lock()
	if isOnline {
		t.online[id] = struct{}{}
	} else {
		delete(t.online, id)
	}
	n := len(t.online)
	t.mu.Unlock()
	t.publish(n)
}

// IsOnline reports whether the peer is currently online.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// Clear drops all presence state, used on channel disconnect.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.mu.Unlock()
	t.publish(0)
}

func (t *Tracker) publish(count int) {
	if t.bus != nil {
		t.bus.Emit("presence.changed", count)
	}
}
