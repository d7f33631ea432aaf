// Package typing throttles outbound typing indicators from raw input activity.
package typing

import (
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/clock"
)

// DefaultWindow is how long after the last keystroke a stop is emitted.
const DefaultWindow = 800 * time.Millisecond

// Emitter sends typing start and stop commands.
type Emitter interface {
	SetTyping(to string, isTyping bool)
}

// Debouncer is a two-state machine, idle or active. The first input while
// idle emits a start to the current destination; later input only extends
// the window. Expiry, an explicit send, or a destination change emits the
// stop. Safe for concurrent use.
type Debouncer struct {
	mu     sync.Mutex
	emit   Emitter
	clock  clock.Clock
	window time.Duration

	dest     string
	active   bool
	activeTo string
	timer    clock.Timer
	gen      uint64
}

// New creates a debouncer. A non-positive window uses DefaultWindow.
func New(e Emitter, clk clock.Clock, window time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{emit: e, clock: clk, window: window}
}

// SetDestination switches the user being typed to. If a start is
// outstanding for the old destination its stop is emitted first.
func (d *Debouncer) SetDestination(to string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if to == d.dest {
		return
	}
	if d.active {
		d.stopLocked()
	}
	d.dest = to
}

// InputChanged records local input activity.
func (d *Debouncer) InputChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dest == "" {
		return
	}
	if !d.active {
		d.active = true
		d.activeTo = d.dest
		d.emit.SetTyping(d.activeTo, true)
	}
	d.arm()
}

// Sent ends the typing burst after the message is sent.
func (d *Debouncer) Sent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.stopLocked()
	}
}

// Close emits any pending stop and forgets the destination.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.stopLocked()
	}
	d.dest = ""
}

// Active reports whether a start is outstanding.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debouncer) arm() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { d.expire(gen) })
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || !d.active {
		return
	}
	d.stopLocked()
}

func (d *Debouncer) stopLocked() {
	d.active = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.emit.SetTyping(d.activeTo, false)
	d.activeTo = ""
}
