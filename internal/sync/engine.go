// Package sync applies live events, snapshot fetches, and user actions to
// the session state on a single dispatch goroutine.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/clock"
	"github.com/matheus3301/dmsync/internal/store"
)

// DefaultTypingTTL bounds how long a typing indicator survives without a
// refresh or an explicit stop.
const DefaultTypingTTL = 5 * time.Second

const defaultQueue = 256

var (
	// ErrStopped is returned by actions submitted after Stop.
	ErrStopped = errors.New("engine stopped")
	// ErrUnknownConversation is returned when opening a conversation that does not exist.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrEmptyMessage is returned when sending without a destination or body.
	ErrEmptyMessage = errors.New("empty message")
)

// Fetcher performs the REST snapshot reads.
type Fetcher interface {
	FetchConversations(ctx context.Context) ([]store.Conversation, error)
	FetchMessages(ctx context.Context, conversationID, counterpartID string) ([]store.Message, error)
	MarkRead(ctx context.Context, counterpartID string) error
}

// Outbound emits commands on the live channel. Calls must not block.
type Outbound interface {
	SendMessage(to, text string)
	MarkSeen(conversationID, messageID string)
}

// Archive persists conversation summaries and logs between runs.
type Archive interface {
	SaveConversation(c store.Conversation, log []store.Message) error
	DeleteConversation(id string) error
	Load() ([]store.Conversation, map[string][]store.Message, error)
	Purge() error
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Clock     clock.Clock
	Bus       *bus.Bus
	Logger    *zap.Logger
	TypingTTL time.Duration
	NewID     func() string
	Archive   Archive
	QueueSize int

	// ResyncOnConnect refetches summaries, and the open conversation's
	// messages, every time the live channel comes back.
	ResyncOnConnect bool
}

// Engine is the single writer of a store.State. Inbound events and user
// actions are queued and applied one at a time, to completion, in order.
// Readers get copies under a read lock.
type Engine struct {
	state  *store.State
	fetch  Fetcher
	out    Outbound
	clock  clock.Clock
	bus    *bus.Bus
	logger *zap.Logger
	arch   Archive
	ttl    time.Duration
	newID  func() string
	resync bool

	mu      stdsync.RWMutex
	actions chan job
	done    chan struct{}
	stop    stdsync.Once
	ctx     context.Context
	cancel  context.CancelFunc

	// Owned by the dispatch goroutine.
	typingTimers map[string]clock.Timer
}

// action runs on the dispatch goroutine with the write lock held. It records
// what it touched and which commands to emit in tx.
type action func(tx *txn) error

type job struct {
	fn     action
	result chan<- error // nil for fire-and-forget
}

// NewEngine creates an engine for state. out may be nil until a live
// channel exists; fetch may be nil when snapshots are not available.
func NewEngine(state *store.State, fetch Fetcher, out Outbound, opts Options) *Engine {
	e := &Engine{
		state:        state,
		fetch:        fetch,
		out:          out,
		clock:        opts.Clock,
		bus:          opts.Bus,
		logger:       opts.Logger,
		arch:         opts.Archive,
		ttl:          opts.TypingTTL,
		newID:        opts.NewID,
		resync:       opts.ResyncOnConnect,
		done:         make(chan struct{}),
		typingTimers: make(map[string]clock.Timer),
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.ttl <= 0 {
		e.ttl = DefaultTypingTTL
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.NewString() }
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueue
	}
	e.actions = make(chan job, size)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// SetOutbound attaches the live channel's command API.
func (e *Engine) SetOutbound(out Outbound) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = out
}

// Start restores archived state and begins dispatching.
func (e *Engine) Start(ctx context.Context) error {
	if e.arch != nil {
		if err := e.restore(); err != nil {
			return fmt.Errorf("restore archive: %w", err)
		}
	}
	go e.loop(ctx)
	return nil
}

// Stop ends dispatching. Queued actions are abandoned.
func (e *Engine) Stop() {
	e.stop.Do(func() {
		e.cancel()
		close(e.done)
	})
}

func (e *Engine) restore() error {
	convs, logs, err := e.arch.Load()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Conversations.Restore(convs)
	for id, log := range logs {
		e.state.Messages.Restore(id, log)
	}
	e.logger.Info("restored archive", zap.Int("conversations", len(convs)))
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case j := <-e.actions:
			e.apply(j)
		case <-ctx.Done():
			e.Stop()
			return
		case <-e.done:
			return
		}
	}
}

// enqueue hands j to the dispatch goroutine, blocking while the queue is full.
// Nothing is queued once the engine has stopped.
func (e *Engine) enqueue(ctx context.Context, j job) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.actions <- j:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit queues fn without waiting for it.
func (e *Engine) submit(fn action) {
	if err := e.enqueue(e.ctx, job{fn: fn}); err != nil {
		e.logger.Debug("dropping action", zap.Error(err))
	}
}

// do runs fn on the dispatch goroutine and waits until it and its effects
// are complete.
func (e *Engine) do(ctx context.Context, fn action) error {
	result := make(chan error, 1)
	if err := e.enqueue(ctx, job{fn: fn, result: result}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every action queued before it has been applied.
func (e *Engine) Flush(ctx context.Context) error {
	return e.do(ctx, func(*txn) error { return nil })
}

func (e *Engine) apply(j job) {
	tx := newTxn()
	e.mu.Lock()
	err := j.fn(tx)
	out := e.out
	saves := e.collectSaves(tx)
	e.mu.Unlock()

	if err != nil && !errors.Is(err, ErrUnknownConversation) {
		e.logger.Debug("action failed", zap.Error(err))
	}
	if out != nil {
		for _, s := range tx.sends {
			out.SendMessage(s.to, s.text)
		}
		for _, r := range tx.receipts {
			out.MarkSeen(r.conversationID, r.messageID)
		}
	}
	e.persist(tx, saves)
	e.publish(tx)
	if j.result != nil {
		j.result <- err
	}
}
