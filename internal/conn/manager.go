// Package conn owns the live event channel: connect, reconnect with backoff,
// teardown, inbound routing, and the outbound command API.
package conn

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/clock"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/wire"
	"github.com/matheus3301/dmsync/internal/ws"
)

const outboundQueue = 64

// Sink receives everything the live channel produces. Calls for one
// connection are made from a single goroutine, in arrival order, and never
// after Disconnect has returned.
type Sink interface {
	Deliver(ev wire.Inbound)
	Connected()
	// Disconnected is called when the channel drops and retries are exhausted
	// or the transport reports an error. It is not called for Disconnect.
	Disconnected(err error)
	// AuthLost is called once when the service rejects the credential.
	AuthLost(err error)
}

// Manager maintains a single live channel. All methods are safe for
// concurrent use.
type Manager struct {
	dialer  ws.Dialer
	clock   clock.Clock
	status  *status.Machine
	backoff Backoff
	log     *zap.Logger

	// gate orders sink calls against teardown: callbacks hold it for
	// reading, Connect and Disconnect for writing.
	gate sync.RWMutex
	sink Sink

	mu      sync.Mutex
	epoch   uint64
	active  bool
	token   string
	ch      ws.Channel
	cancel  context.CancelFunc
	timer   clock.Timer
	attempt int
	out     chan []byte
	typing  map[string]bool
}

// NewManager creates a manager. st may be shared with other observers.
func NewManager(d ws.Dialer, clk clock.Clock, st *status.Machine, b Backoff, log *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if st == nil {
		st = status.NewMachine(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dialer:  d,
		clock:   clk,
		status:  st,
		backoff: b,
		log:     log,
		typing:  make(map[string]bool),
	}
}

// RegisterSink sets the receiver of inbound events and connectivity callbacks.
func (m *Manager) RegisterSink(s Sink) {
	m.gate.Lock()
	defer m.gate.Unlock()
	m.sink = s
}

// Status returns the connectivity state.
func (m *Manager) Status() status.State {
	return m.status.Current()
}

// Connect opens the channel with token. It is a no-op when a channel for the
// same token is open, opening, or waiting to reconnect. Transport failures go
// to the retry path; the only error is wire.ErrNoCredential.
func (m *Manager) Connect(token string) error {
	if token == "" {
		return wire.ErrNoCredential
	}
	m.gate.Lock()
	m.mu.Lock()
	if m.active && m.token == token {
		m.mu.Unlock()
		m.gate.Unlock()
		return nil
	}
	m.teardownLocked()
	m.active = true
	m.token = token
	m.attempt = 0
	ep := m.epoch
	m.setStatus(status.Connecting, nil)
	m.mu.Unlock()
	m.gate.Unlock()

	m.log.Info("connecting")
	go m.dial(ep)
	return nil
}

// Disconnect closes the channel and cancels any pending reconnect. Events
// still in flight are discarded. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.gate.Lock()
	defer m.gate.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	wasActive := m.active
	m.teardownLocked()
	m.token = ""
	if wasActive {
		m.log.Info("disconnected")
	}
}

// teardownLocked invalidates the current epoch and releases the channel.
func (m *Manager) teardownLocked() {
	m.epoch++
	m.active = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.closeChannelLocked()
	clear(m.typing)
	if m.status.Current() != status.Disconnected {
		m.setStatus(status.Disconnected, nil)
	}
}

func (m *Manager) closeChannelLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.ch != nil {
		_ = m.ch.Close()
		m.ch = nil
	}
	m.out = nil
}

func (m *Manager) dial(ep uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if ep != m.epoch {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancel = cancel
	token := m.token
	m.mu.Unlock()

	ch, err := m.dialer.Dial(ctx, token)
	if err != nil {
		m.fail(ep, err)
		return
	}

	m.mu.Lock()
	if ep != m.epoch {
		m.mu.Unlock()
		_ = ch.Close()
		return
	}
	m.ch = ch
	m.attempt = 0
	out := make(chan []byte, outboundQueue)
	m.out = out
	clear(m.typing)
	m.setStatus(status.Connected, nil)
	m.mu.Unlock()

	m.log.Info("connected")
	m.notify(ep, func(s Sink) { s.Connected() })
	go m.writeLoop(ctx, ep, ch, out)
	m.readLoop(ctx, ep, ch)
}

func (m *Manager) readLoop(ctx context.Context, ep uint64, ch ws.Channel) {
	for {
		frame, err := ch.Read(ctx)
		if err != nil {
			m.fail(ep, err)
			return
		}
		ev := wire.Decode(frame)
		m.notify(ep, func(s Sink) { s.Deliver(ev) })
	}
}

func (m *Manager) writeLoop(ctx context.Context, ep uint64, ch ws.Channel, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-out:
			if err := ch.Write(ctx, frame); err != nil {
				m.fail(ep, err)
				return
			}
		}
	}
}

// fail handles the loss of the channel belonging to ep. A rejected
// credential ends the session; anything else schedules a reconnect.
func (m *Manager) fail(ep uint64, err error) {
	m.mu.Lock()
	if ep != m.epoch || !m.active {
		m.mu.Unlock()
		return
	}
	m.epoch++
	next := m.epoch
	m.closeChannelLocked()
	clear(m.typing)

	if errors.Is(err, wire.ErrUnauthenticated) {
		m.active = false
		m.setStatus(status.AuthRequired, err)
		m.mu.Unlock()
		m.log.Warn("credential rejected", zap.Error(err))
		m.notify(next, func(s Sink) { s.AuthLost(err) })
		return
	}

	if m.backoff.Exhausted(m.attempt) {
		m.active = false
		m.setStatus(status.Disconnected, err)
		m.mu.Unlock()
		m.log.Error("giving up reconnect", zap.Int("attempts", m.attempt), zap.Error(err))
		m.notify(next, func(s Sink) { s.Disconnected(err) })
		return
	}

	delay := m.backoff.Delay(m.attempt)
	m.attempt++
	m.setStatus(status.Reconnecting, err)
	m.timer = m.clock.AfterFunc(delay, func() { m.retry(next) })
	attempt := m.attempt
	m.mu.Unlock()

	m.log.Warn("channel lost, reconnecting",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	m.notify(next, func(s Sink) { s.Disconnected(err) })
}

func (m *Manager) retry(ep uint64) {
	m.mu.Lock()
	if ep != m.epoch || !m.active {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.setStatus(status.Connecting, nil)
	m.mu.Unlock()
	go m.dial(ep)
}

// notify calls fn on the sink unless ep was superseded by a teardown.
func (m *Manager) notify(ep uint64, fn func(Sink)) {
	m.gate.RLock()
	defer m.gate.RUnlock()
	m.mu.Lock()
	current := ep == m.epoch
	m.mu.Unlock()
	if current && m.sink != nil {
		fn(m.sink)
	}
}

func (m *Manager) setStatus(to status.State, cause error) {
	if err := m.status.Transition(to, cause); err != nil {
		m.log.Debug("status transition rejected", zap.Error(err))
	}
}

// SendMessage emits send_message. It never blocks; while disconnected the
// command is dropped.
func (m *Manager) SendMessage(to, text string) {
	if to == "" {
		return
	}
	m.emit(wire.SendMessage{To: to, Text: text})
}

// SetTyping emits typing or stop_typing. A start is only sent when no start
// is outstanding for to, and a stop only when one is.
func (m *Manager) SetTyping(to string, isTyping bool) {
	if to == "" {
		return
	}
	m.mu.Lock()
	if m.typing[to] == isTyping {
		m.mu.Unlock()
		return
	}
	if isTyping {
		m.typing[to] = true
	} else {
		delete(m.typing, to)
	}
	m.mu.Unlock()

	if isTyping {
		m.emit(wire.StartTyping{To: to})
	} else {
		m.emit(wire.StopTyping{To: to})
	}
}

// MarkSeen emits a read receipt for one message.
func (m *Manager) MarkSeen(conversationID, messageID string) {
	if messageID == "" {
		return
	}
	m.emit(wire.MarkSeen{ConversationID: conversationID, MessageID: messageID})
}

func (m *Manager) emit(o wire.Outbound) {
	frame, err := wire.Encode(o)
	if err != nil {
		m.log.Error("encode outbound", zap.Error(err))
		return
	}
	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	if out == nil {
		m.log.Debug("dropping outbound while disconnected", zap.String("event", o.Event()))
		return
	}
	select {
	case out <- frame:
	default:
		m.log.Warn("outbound queue full, dropping", zap.String("event", o.Event()))
	}
}
