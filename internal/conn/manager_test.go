package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/dmsync/internal/clock"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/wire"
	"github.com/matheus3301/dmsync/internal/ws"
)

var errClosed = errors.New("closed")

type fakeChannel struct {
	in     chan []byte
	errc   chan error
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan []byte, 16),
		errc:   make(chan error, 1),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case err := <-c.errc:
		return nil, err
	case <-c.closed:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Write(ctx context.Context, frame []byte) error {
	select {
	case c.writes <- frame:
		return nil
	case <-c.closed:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out results in order; once exhausted it keeps failing.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   atomic.Int32
	tokens  chan string
}

type dialResult struct {
	ch  *fakeChannel
	err error
}

func newFakeDialer(results ...dialResult) *fakeDialer {
	return &fakeDialer{results: results, tokens: make(chan string, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, token string) (ws.Channel, error) {
	d.calls.Add(1)
	d.tokens <- token
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return nil, wire.ErrTransportUnavailable
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.ch, nil
}

type recordingSink struct {
	events chan any
}

type connectedEvt struct{}
type disconnectedEvt struct{ err error }
type authLostEvt struct{ err error }

func newSink() *recordingSink { return &recordingSink{events: make(chan any, 64)} }

func (s *recordingSink) Deliver(ev wire.Inbound) { s.events <- ev }
func (s *recordingSink) Connected() { s.events <- connectedEvt{} }
func (s *recordingSink) Disconnected(err error) { s.events <- disconnectedEvt{err} }
func (s *recordingSink) AuthLost(err error) { s.events <- authLostEvt{err} }

func (s *recordingSink) next(t *testing.T) any {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sink event")
		return nil
	}
}

func (s *recordingSink) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Fatalf("unexpected sink event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

var testBackoff = Backoff{
	Base: 100 * time.Millisecond,
	Max:  time.Second,
	Jitter: func(n time.Duration) time.Duration {
		return 0
	},
}

func newTestManager(d ws.Dialer, b Backoff) (*Manager, *recordingSink, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	m := NewManager(d, clk, status.NewMachine(nil), b, nil)
	s := newSink()
	m.RegisterSink(s)
	return m, s, clk
}

func TestConnectDeliversInOrder(t *testing.T) {
	fc := newFakeChannel()
	d := newFakeDialer(dialResult{ch: fc})
	m, sink, _ := newTestManager(d, testBackoff)
	defer m.Disconnect()

	require.NoError(t, m.Connect("tok"))
	assert.Equal(t, "tok", <-d.tokens)
	require.IsType(t, connectedEvt{}, sink.next(t))
	assert.Equal(t, status.Connected, m.Status())

	fc.in <- []byte(`{"event":"online_users","data":["u1","u2"]}`)
	fc.in <- []byte(`{"event":"user_offline","data":{"userId":"u1"}}`)
	fc.in <- []byte(`{"event":"nope","data":1}`)

	assert.Equal(t, wire.OnlineUsers{UserIDs: []string{"u1", "u2"}}, sink.next(t))
	assert.Equal(t, wire.UserOffline{UserID: "u1"}, sink.next(t))
	assert.IsType(t, wire.Malformed{}, sink.next(t))
}

func TestConnectWithoutToken(t *testing.T) {
	d := newFakeDialer()
	m, _, _ := newTestManager(d, testBackoff)

	assert.ErrorIs(t, m.Connect(""), wire.ErrNoCredential)
	assert.Equal(t, int32(0), d.calls.Load())
	assert.Equal(t, status.Disconnected, m.Status())
}

func TestConnectIsIdempotent(t *testing.T) {
	d := newFakeDialer(dialResult{ch: newFakeChannel()})
	m, sink, _ := newTestManager(d, testBackoff)
	defer m.Disconnect()

	require.NoError(t, m.Connect("tok"))
	require.IsType(t, connectedEvt{}, sink.next(t))
	require.NoError(t, m.Connect("tok"))
	sink.none(t)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestConnectWithNewTokenRedials(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	d := newFakeDialer(dialResult{ch: first}, dialResult{ch: second})
	m, sink, _ := newTestManager(d, testBackoff)
	defer m.Disconnect()

	require.NoError(t, m.Connect("a"))
	require.IsType(t, connectedEvt{}, sink.next(t))
	require.NoError(t, m.Connect("b"))
	require.IsType(t, connectedEvt{}, sink.next(t))

	assert.Equal(t, []string{"a", "b"}, []string{<-d.tokens, <-d.tokens})
	select {
	case <-first.closed:
	default:
		t.Error("old channel not closed")
	}
}

func TestDropReconnectsWithinBackoff(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	d := newFakeDialer(dialResult{ch: first}, dialResult{ch: second})
	m, sink, clk := newTestManager(d, testBackoff)
	defer m.Disconnect()

	require.NoError(t, m.Connect("tok"))
	require.IsType(t, connectedEvt{}, sink.next(t))

	first.errc <- fmt.Errorf("%w: reset", wire.ErrTransportUnavailable)
	ev := sink.next(t)
	require.IsType(t, disconnectedEvt{}, ev)
	assert.ErrorIs(t, ev.(disconnectedEvt).err, wire.ErrTransportUnavailable)
	assert.Equal(t, status.Reconnecting, m.Status())
	assert.Equal(t, 1, clk.Pending())

	// Fire-and-forget while down.
	assert.NotPanics(t, func() { m.SendMessage("bob", "hi") })

	clk.Advance(testBackoff.Base - time.Millisecond)
	assert.Equal(t, int32(1), d.calls.Load())
	clk.Advance(time.Millisecond)
	require.IsType(t, connectedEvt{}, sink.next(t))
	assert.Equal(t, int32(2), d.calls.Load())
	assert.Equal(t, status.Connected, m.Status())
}

func TestRejectedCredentialIsFatal(t *testing.T) {
	d := newFakeDialer(dialResult{err: fmt.Errorf("dial: %w", wire.ErrUnauthenticated)})
	m, sink, clk := newTestManager(d, testBackoff)

	require.NoError(t, m.Connect("bad"))
	ev := sink.next(t)
	require.IsType(t, authLostEvt{}, ev)
	assert.ErrorIs(t, ev.(authLostEvt).err, wire.ErrUnauthenticated)
	assert.Equal(t, status.AuthRequired, m.Status())
	assert.Equal(t, 0, clk.Pending())

	// A new credential is accepted after rejection.
	fc := newFakeChannel()
	d.mu.Lock()
	d.results = append(d.results, dialResult{ch: fc})
	d.mu.Unlock()
	require.NoError(t, m.Connect("good"))
	require.IsType(t, connectedEvt{}, sink.next(t))
	m.Disconnect()
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	fc := newFakeChannel()
	d := newFakeDialer(dialResult{ch: fc})
	m, sink, clk := newTestManager(d, testBackoff)

	require.NoError(t, m.Connect("tok"))
	require.IsType(t, connectedEvt{}, sink.next(t))
	fc.errc <- wire.ErrTransportUnavailable
	require.IsType(t, disconnectedEvt{}, sink.next(t))

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, status.Disconnected, m.Status())

	clk.Advance(time.Minute)
	sink.none(t)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestDisconnectDiscardsLateEvents(t *testing.T) {
	fc := newFakeChannel()
	d := newFakeDialer(dialResult{ch: fc})
	m, sink, _ := newTestManager(d, testBackoff)

	require.NoError(t, m.Connect("tok"))
	require.IsType(t, connectedEvt{}, sink.next(t))

	m.Disconnect()
	fc.in <- []byte(`{"event":"user_online","data":"u1"}`)
	sink.none(t)
}

func TestOutboundFrames(t *testing.T) {
	fc := newFakeChannel()
	d := newFakeDialer(dialResult{ch: fc})
	m, sink, _ := newTestManager(d, testBackoff)
	defer m.Disconnect()

	require.NoError(t, m.Connect("tok"))
	require.IsType(t, connectedEvt{}, sink.next(t))

	m.SendMessage("bob", "hi")
	m.SetTyping("bob", true)
	m.SetTyping("bob", true)
	m.SetTyping("bob", false)
	m.SetTyping("bob", false)
	m.MarkSeen("C", "m1")

	want := []string{
		`{"event":"send_message","data":{"to":"bob","text":"hi"}}`,
		`{"event":"typing","data":{"to":"bob"}}`,
		`{"event":"stop_typing","data":{"to":"bob"}}`,
		`{"event":"message_seen","data":{"conversationId":"C","messageId":"m1"}}`,
	}
	for _, w := range want {
		select {
		case got := <-fc.writes:
			assert.JSONEq(t, w, string(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", w)
		}
	}
	select {
	case extra := <-fc.writes:
		t.Errorf("unexpected frame %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOutboundWhileDisconnectedIsDropped(t *testing.T) {
	m, _, _ := newTestManager(newFakeDialer(), testBackoff)
	assert.NotPanics(t, func() {
		m.SendMessage("bob", "hi")
		m.SetTyping("bob", true)
		m.MarkSeen("C", "m1")
	})
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	b := testBackoff
	b.MaxAttempts = 1
	d := newFakeDialer()
	m, sink, clk := newTestManager(d, b)

	require.NoError(t, m.Connect("tok"))
	require.IsType(t, disconnectedEvt{}, sink.next(t))
	assert.Equal(t, status.Reconnecting, m.Status())

	clk.Advance(time.Second)
	require.IsType(t, disconnectedEvt{}, sink.next(t))
	assert.Equal(t, status.Disconnected, m.Status())
	assert.Equal(t, int32(2), d.calls.Load())
	assert.Equal(t, 0, clk.Pending())
}
