package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is made
// lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", &StatusRequest{})
}

func (c *Client) Connect(ctx context.Context) (*ConnectResponse, error) {
	return invoke[ConnectResponse](ctx, c, "Connect", &ConnectRequest{})
}

func (c *Client) Disconnect(ctx context.Context) (*DisconnectResponse, error) {
	return invoke[DisconnectResponse](ctx, c, "Disconnect", &DisconnectRequest{})
}

func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	return invoke[RefreshResponse](ctx, c, "Refresh", &RefreshRequest{})
}

func (c *Client) ListConversations(ctx context.Context, limit int) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c, "ListConversations", &ListConversationsRequest{Limit: limit})
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, "ListMessages", &ListMessagesRequest{ConversationID: conversationID, Limit: limit})
}

func (c *Client) Open(ctx context.Context, conversationID string) (*OpenResponse, error) {
	return invoke[OpenResponse](ctx, c, "Open", &OpenRequest{ConversationID: conversationID})
}

func (c *Client) CloseConversation(ctx context.Context) error {
	_, err := invoke[CloseResponse](ctx, c, "Close", &CloseRequest{})
	return err
}

func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c, "Send", req)
}

func (c *Client) Input(ctx context.Context) (*InputResponse, error) {
	return invoke[InputResponse](ctx, c, "Input", &InputRequest{})
}

// Watch streams bus events whose kind starts with namespace.
func (c *Client) Watch(ctx context.Context, namespace string) (*WatchStream, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Namespace: namespace}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}

// WatchStream is the client side of Watch.
type WatchStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends
// the stream.
func (w *WatchStream) Recv() (*Event, error) {
	e := new(Event)
	if err := w.stream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}
