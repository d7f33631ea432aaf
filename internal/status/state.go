// Package status tracks the connectivity indicator shown to the user.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
)

// State is the live channel's connectivity state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	AuthRequired State = "AUTH_REQUIRED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, AuthRequired, Disconnected},
	Connected:    {Reconnecting, AuthRequired, Disconnected},
	Reconnecting: {Connecting, Disconnected},
	AuthRequired: {Connecting, Disconnected},
}

// Machine tracks and enforces connectivity state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
	now     func() time.Time
}

// NewMachine creates a new state machine starting in Disconnected state.
// b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		since:   time.Now(),
		bus:     b,
		now:     time.Now,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. cause, if not nil, is attached
// to the published change. Returns error if transition is invalid.
func (m *Machine) Transition(to State, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = m.now()
	if m.bus != nil {
		change := StatusChange{From: from, To: to}
		if cause != nil {
			change.Cause = cause.Error()
		}
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: m.since,
			Payload:   change,
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From  State
	To    State
	Cause string
}
