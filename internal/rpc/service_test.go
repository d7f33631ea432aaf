package rpc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conn"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
	dsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/typing"
	"github.com/matheus3301/dmsync/internal/wire"
	"github.com/matheus3301/dmsync/internal/ws"
)

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string) (ws.Channel, error) {
	return nil, wire.ErrTransportUnavailable
}

type fixture struct {
	client *Client
	engine *dsync.Engine
}

func startServer(t *testing.T) *fixture {
	t.Helper()
	// Keep the socket path short for the 104-byte sun_path limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "dmsync-rpc-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	b := bus.New()
	machine := status.NewMachine(b)
	mgr := conn.NewManager(refusingDialer{}, nil, machine, conn.DefaultBackoff, nil)
	engine := dsync.NewEngine(store.NewState("me"), nil, mgr, dsync.Options{Bus: b})
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)
	t.Cleanup(mgr.Disconnect)

	svc := NewService(ServiceParams{
		Session: "test",
		Engine:  engine,
		Conn:    mgr,
		Typing:  typing.New(mgr, nil, time.Minute),
		Machine: machine,
		Bus:     b,
	})

	socket := filepath.Join(dir, "d.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)
	srv := grpc.NewServer()
	Register(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &fixture{client: c, engine: engine}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatus(t *testing.T) {
	f := startServer(t)

	resp, err := f.client.Status(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "test", resp.Session)
	assert.Equal(t, "me", resp.UserID)
	assert.Equal(t, string(status.Disconnected), resp.Status)
	assert.Zero(t, resp.Conversations)
}

func TestConnectWithoutCredential(t *testing.T) {
	f := startServer(t)

	_, err := f.client.Connect(testCtx(t))
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))
}

func TestSendAndList(t *testing.T) {
	f := startServer(t)
	ctx := testCtx(t)

	sent, err := f.client.Send(ctx, &SendRequest{To: "bob", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, sent.Message.Provisional)
	assert.Equal(t, "me", sent.Message.From)
	assert.Equal(t, "sent", sent.Message.Status)

	convs, err := f.client.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, convs.Conversations, 1)
	c := convs.Conversations[0]
	assert.Equal(t, "bob", c.CounterpartID)
	assert.Equal(t, "hi", c.LastMessage)

	msgs, err := f.client.ListMessages(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, sent.Message.ID, msgs.Messages[0].ID)

	// Reply through the conversation instead of the user id.
	_, err = f.client.Send(ctx, &SendRequest{ConversationID: c.ID, Text: "again"})
	require.NoError(t, err)
	msgs, err = f.client.ListMessages(ctx, c.ID, 1)
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "again", msgs.Messages[0].Text)
}

func TestSendErrors(t *testing.T) {
	f := startServer(t)
	ctx := testCtx(t)

	_, err := f.client.Send(ctx, &SendRequest{To: "bob"})
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	_, err = f.client.Send(ctx, &SendRequest{ConversationID: "nope", Text: "x"})
	assert.Equal(t, codes.NotFound, grpcstatus.Code(err))
}

func TestOpenAndInput(t *testing.T) {
	f := startServer(t)
	ctx := testCtx(t)

	_, err := f.client.Open(ctx, "nope")
	assert.Equal(t, codes.NotFound, grpcstatus.Code(err))

	f.engine.Deliver(wire.MessageReceived{Message: store.Message{
		ID: "m1", ConversationID: "C", SenderID: "bob", RecipientID: "me",
		Text: "hey", Timestamp: time.Now(),
	}})
	require.NoError(t, f.engine.Flush(ctx))

	opened, err := f.client.Open(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, "bob", opened.Conversation.CounterpartID)
	assert.Zero(t, opened.Conversation.Unread)

	in, err := f.client.Input(ctx)
	require.NoError(t, err)
	assert.True(t, in.Typing)

	require.NoError(t, f.client.CloseConversation(ctx))
	in, err = f.client.Input(ctx)
	require.NoError(t, err)
	assert.False(t, in.Typing, "no destination after close")

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Active)
}

func TestWatchStreamsStoreEvents(t *testing.T) {
	f := startServer(t)
	ctx := testCtx(t)

	stream, err := f.client.Watch(ctx, "store.")
	require.NoError(t, err)

	// The subscription is made server side after the request arrives, so
	// keep producing events until one gets through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				f.engine.Deliver(wire.UserOnline{UserID: "bob"})
			}
		}
	}()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, bus.KindStoreChanged, ev.Kind)
}

func TestToEventCarriesStatusChange(t *testing.T) {
	ev := toEvent(bus.Event{
		Kind:    bus.KindStatusChanged,
		Payload: status.StatusChange{From: status.Connected, To: status.Reconnecting, Cause: "reset"},
	})
	assert.Equal(t, string(status.Connected), ev.From)
	assert.Equal(t, string(status.Reconnecting), ev.To)
	assert.Equal(t, "reset", ev.Detail)
}
