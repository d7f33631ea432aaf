package status

import (
	"errors"
	"testing"

	"github.com/matheus3301/dmsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
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
		{Connecting, AuthRequired},
		{Connected, Reconnecting},
		{Connected, AuthRequired},
		{Connected, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Disconnected},
		{AuthRequired, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to, nil); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, Disconnected},
		{Reconnecting, Connected},
		{AuthRequired, Reconnecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to, nil); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	walkTo(t, m, Connecting)
	<-ch
	if err := m.Transition(Reconnecting, errors.New("reset by peer")); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Connecting || change.To != Reconnecting || change.Cause != "reset by peer" {
		t.Errorf("change = %+v", change)
	}
}

// TestReconnectCycle walks a drop and recovery:
// CONNECTED → RECONNECTING → CONNECTING → CONNECTED
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	for _, s := range []State{Reconnecting, Connecting, Connected} {
		if err := m.Transition(s, nil); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestAuthRequiredNeedsNewConnect verifies a rejected credential cannot
// silently resume; only a fresh connect or a teardown leaves AUTH_REQUIRED.
func TestAuthRequiredNeedsNewConnect(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AuthRequired)

	if err := m.Transition(Connected, nil); err == nil {
		t.Fatal("AUTH_REQUIRED -> CONNECTED should fail")
	}
	if err := m.Transition(Disconnected, nil); err != nil {
		t.Fatalf("AUTH_REQUIRED -> DISCONNECTED: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Reconnecting: {Connecting, Reconnecting},
		AuthRequired: {Connecting, AuthRequired},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s, nil); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
