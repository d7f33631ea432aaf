package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conn"
	"github.com/matheus3301/dmsync/internal/status"
	dsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/typing"
	"github.com/matheus3301/dmsync/internal/wire"
)

// Service implements ClientServer on top of the running client.
type Service struct {
	session    string
	startedAt  time.Time
	engine     *dsync.Engine
	conn       *conn.Manager
	typing     *typing.Debouncer
	machine    *status.Machine
	bus        *bus.Bus
	credential func() string
	log        *zap.Logger
}

// ServiceParams holds what a Service needs.
type ServiceParams struct {
	Session    string
	Engine     *dsync.Engine
	Conn       *conn.Manager
	Typing     *typing.Debouncer
	Machine    *status.Machine
	Bus        *bus.Bus
	Credential func() string
	Logger     *zap.Logger
}

// NewService creates the control service.
func NewService(p ServiceParams) *Service {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cred := p.Credential
	if cred == nil {
		cred = func() string { return "" }
	}
	return &Service{
		session:    p.Session,
		startedAt:  time.Now(),
		engine:     p.Engine,
		conn:       p.Conn,
		typing:     p.Typing,
		machine:    p.Machine,
		bus:        p.Bus,
		credential: cred,
		log:        log,
	}
}

func (s *Service) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Session:       s.session,
		UserID:        s.engine.Self(),
		Status:        string(s.machine.Current()),
		Since:         s.machine.Since(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Conversations: len(s.engine.Conversations()),
		Active:        s.engine.Active(),
		Online:        s.engine.Online(),
	}
	if s.bus != nil {
		resp.DroppedEvents = s.bus.Dropped()
	}
	return resp, nil
}

func (s *Service) Connect(_ context.Context, _ *ConnectRequest) (*ConnectResponse, error) {
	if err := s.conn.Connect(s.credential()); err != nil {
		return nil, toStatus(err)
	}
	return &ConnectResponse{Status: string(s.machine.Current())}, nil
}

func (s *Service) Disconnect(_ context.Context, _ *DisconnectRequest) (*DisconnectResponse, error) {
	s.typing.Close()
	s.conn.Disconnect()
	return &DisconnectResponse{Status: string(s.machine.Current())}, nil
}

func (s *Service) Refresh(ctx context.Context, _ *RefreshRequest) (*RefreshResponse, error) {
	if err := s.engine.LoadConversations(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &RefreshResponse{Conversations: len(s.engine.Conversations())}, nil
}

func (s *Service) ListConversations(_ context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	list := s.engine.Conversations()
	if req.Limit > 0 && len(list) > req.Limit {
		list = list[:req.Limit]
	}
	resp := &ListConversationsResponse{Conversations: make([]Conversation, 0, len(list))}
	for _, c := range list {
		resp.Conversations = append(resp.Conversations, ConversationFrom(c))
	}
	return resp, nil
}

func (s *Service) ListMessages(_ context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if _, ok := s.engine.Conversation(req.ConversationID); !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "unknown conversation %q", req.ConversationID)
	}
	log := s.engine.Messages(req.ConversationID)
	if req.Limit > 0 && len(log) > req.Limit {
		log = log[len(log)-req.Limit:]
	}
	resp := &ListMessagesResponse{Messages: make([]Message, 0, len(log))}
	for _, m := range log {
		resp.Messages = append(resp.Messages, MessageFrom(m))
	}
	return resp, nil
}

func (s *Service) Open(ctx context.Context, req *OpenRequest) (*OpenResponse, error) {
	if err := s.engine.OpenConversation(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	c, ok := s.engine.Conversation(s.engine.Active())
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q went away", req.ConversationID)
	}
	s.typing.SetDestination(c.CounterpartID)
	return &OpenResponse{Conversation: ConversationFrom(c)}, nil
}

func (s *Service) Close(ctx context.Context, _ *CloseRequest) (*CloseResponse, error) {
	s.typing.Close()
	if err := s.engine.CloseConversation(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &CloseResponse{}, nil
}

func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	to := req.To
	if to == "" && req.ConversationID != "" {
		c, ok := s.engine.Conversation(req.ConversationID)
		if !ok {
			return nil, grpcstatus.Errorf(codes.NotFound, "unknown conversation %q", req.ConversationID)
		}
		to = c.CounterpartID
	}
	m, err := s.engine.SendMessage(ctx, to, req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	s.typing.Sent()
	return &SendResponse{Message: MessageFrom(m)}, nil
}

func (s *Service) Input(_ context.Context, _ *InputRequest) (*InputResponse, error) {
	s.typing.InputChanged()
	return &InputResponse{Typing: s.typing.Active()}, nil
}

// Watch forwards bus events until the caller goes away or the bus closes.
func (s *Service) Watch(req *WatchRequest, stream EventStream) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "no event bus")
	}
	events, unsub := s.bus.Subscribe(req.Namespace, 64)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.Send(toEvent(ev)); err != nil {
				s.log.Debug("watch stream closed", zap.Error(err))
				return err
			}
		}
	}
}

func toEvent(ev bus.Event) *Event {
	out := &Event{Kind: ev.Kind, Conversation: ev.Conversation, Timestamp: ev.Timestamp}
	switch p := ev.Payload.(type) {
	case status.StatusChange:
		out.From = string(p.From)
		out.To = string(p.To)
		out.Detail = p.Cause
	case string:
		out.Detail = p
	}
	return out
}

// toStatus maps client errors to gRPC codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, dsync.ErrUnknownConversation):
		code = codes.NotFound
	case errors.Is(err, dsync.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, wire.ErrNoCredential):
		code = codes.FailedPrecondition
	case errors.Is(err, wire.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, wire.ErrTransportUnavailable):
		code = codes.Unavailable
	case errors.Is(err, dsync.ErrStopped):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Error(code, err.Error())
}
