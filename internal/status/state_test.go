package status

import (
	"testing"

	"lostlink/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("chat", nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Reconnecting},
		{Connected, Reconnecting},
		{Connected, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Failed},
		{Failed, Connecting},
		{Failed, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("chat", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine("chat", nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
}

// TestFailedRequiresExplicitReconnect verifies Failed cannot slip back into
// the automatic retry loop: the only exits are an explicit Connect or
// Disconnect, never Reconnecting.
func TestFailedRequiresExplicitReconnect(t *testing.T) {
	m := NewMachine("chat", nil)
	walkTo(t, m, Failed)

	if err := m.Transition(Reconnecting); err == nil {
		t.Fatal("Transition(FAILED -> RECONNECTING) should fail")
	}
	if m.Current() != Failed {
		t.Errorf("state = %s, want FAILED (should not have changed)", m.Current())
	}

	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("FAILED -> CONNECTING: %v", err)
	}
}

// TestReconnectCycle walks the full drop-and-recover loop:
// CONNECTED → RECONNECTING → CONNECTING → CONNECTED.
func TestReconnectCycle(t *testing.T) {
	m := NewMachine("notify", nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	m := NewMachine("chat", b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "channel.status_changed" {
		t.Errorf("event kind = %q, want channel.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.Channel != "chat" || change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %+v, want chat DISCONNECTED -> CONNECTING", change)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Reconnecting: {Connecting, Connected, Reconnecting},
		Failed:       {Connecting, Reconnecting, Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
