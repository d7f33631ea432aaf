// Package rpc is the local control surface of a running client: gRPC over
// the session's Unix socket, with JSON payloads.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "dmsync.v1.Client"

// ClientServer is implemented by the daemon side.
type ClientServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	Disconnect(context.Context, *DisconnectRequest) (*DisconnectResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	Open(context.Context, *OpenRequest) (*OpenResponse, error)
	Close(context.Context, *CloseRequest) (*CloseResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Input(context.Context, *InputRequest) (*InputResponse, error)
	Watch(*WatchRequest, EventStream) error
}

// EventStream is the server side of Watch.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *Event) error { return s.SendMsg(e) }

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ClientServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ClientServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ClientServer.Status),
		unary("Connect", ClientServer.Connect),
		unary("Disconnect", ClientServer.Disconnect),
		unary("Refresh", ClientServer.Refresh),
		unary("ListConversations", ClientServer.ListConversations),
		unary("ListMessages", ClientServer.ListMessages),
		unary("Open", ClientServer.Open),
		unary("Close", ClientServer.Close),
		unary("Send", ClientServer.Send),
		unary("Input", ClientServer.Input),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ClientServer).Watch(in, &eventStream{stream})
			},
		},
	},
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unary[Req, Resp any](name string, call func(ClientServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ClientServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}
