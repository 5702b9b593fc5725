// Package grpcapi serves the chat relay over gRPC. Messages are
// google.protobuf.Struct values with the same shape as the HTTP bodies, so
// no generated code is needed.
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/relay"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/requestid"
)

const (
	ServiceName = "geechat.v1.ChatService"
	ChatMethod  = "/" + ServiceName + "/Chat"
)

// ChatServer is the service implementation registered under ServiceName.
type ChatServer interface {
	Chat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Chat", Handler: chatHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geechat/v1/chat.proto",
}

func chatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServer).Chat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ChatMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServer).Chat(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithShutdownTimeout bounds GracefulStop before in-flight calls are cut.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

type Server struct {
	relay           *relay.Relay
	grpc            *grpc.Server
	health          *health.Server
	log             *slog.Logger
	shutdownTimeout time.Duration
}

func New(r *relay.Relay, opts ...Option) *Server {
	s := &Server{
		relay:           r,
		health:          health.NewServer(),
		log:             slog.Default(),
		shutdownTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.requestIDInterceptor))
	s.grpc.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Chat takes {"text": ...} (or {"message": ...}) and returns
// {"reply": ..., "actions": [...]}.
func (s *Server) Chat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	reply, err := s.relay.Handle(ctx, relay.TransportGRPC, textOf(req))
	if err != nil {
		return nil, statusFor(err)
	}
	out, err := replyStruct(reply)
	if err != nil {
		s.log.Error("grpc: encode reply", "request_id", requestid.From(ctx), "err", err)
		return nil, status.Error(codes.Internal, "encode reply")
	}
	return out, nil
}

func textOf(req *structpb.Struct) string {
	for _, key := range []string{"text", "message"} {
		if v := req.GetFields()[key].GetStringValue(); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// replyStruct converts through JSON so actions keep their wire form.
func replyStruct(reply *orchestrator.ChatReply) (*structpb.Struct, error) {
	actions := reply.Actions
	if actions == nil {
		actions = []orchestrator.Action{}
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return nil, err
	}
	var list []any
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"reply":   reply.Reply,
		"actions": list,
	})
}

func statusFor(err error) error {
	msg := err.Error()
	if fe, ok := failure.As(err); ok {
		msg = fe.Message
		if fe.Kind == failure.KindUpstream && fe.Body != "" {
			msg += ": " + fe.Body
		}
	}
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return status.Error(codes.InvalidArgument, msg)
	case failure.KindUpstream:
		return status.Error(codes.Unavailable, msg)
	case failure.KindUpstreamTimeout:
		return status.Error(codes.DeadlineExceeded, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

func (s *Server) requestIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var incoming string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(strings.ToLower(requestid.Header)); len(vals) > 0 {
			incoming = vals[0]
		}
	}
	id := requestid.Sanitize(incoming)
	_ = grpc.SetHeader(ctx, metadata.Pairs(strings.ToLower(requestid.Header), id))
	start := time.Now()
	resp, err := handler(requestid.With(ctx, id), req)
	s.log.Info("grpc: request", "request_id", id, "method", info.FullMethod,
		"code", status.Code(err).String(), "elapsed", time.Since(start))
	return resp, err
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs until ctx is cancelled. Shutdown marks the health service
// NOT_SERVING, then drains calls for up to the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(ln)
	}()
	s.log.Info("grpc: listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(s.shutdownTimeout):
			s.grpc.Stop()
		}
		s.log.Info("grpc: stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
