package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/internal/logx"
	"pkt.systems/termbridge/schema"
)

// Server implements termbridge.v1.Bridge over a unix socket.
type Server struct {
	SocketPath string
	Registry   *core.Registry
	logger     pslog.Logger
}

// ListenAndServe starts the gRPC server over a unix domain socket and stops
// it gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.SocketPath == "" {
		return errors.New("grpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.SocketPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(s.SocketPath)
	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.SocketPath, 0o600); err != nil {
		_ = listener.Close()
		return err
	}
	defer func() { _ = os.Remove(s.SocketPath) }()
	return s.Serve(ctx, listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.Registry == nil {
		return errors.New("session registry is required for grpc")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryLogger),
		grpc.ChainStreamInterceptor(s.streamLogger),
	)
	grpcServer.RegisterService(&serviceDesc, s)
	s.logger.Info("grpc listening", "socket", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		// Streams only end when their sessions do; do not wait on them forever.
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			grpcServer.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Subscribe streams envelopes of one session until the session or the call ends.
func (s *Server) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	sess, err := s.Registry.Get(schema.SessionID(req.GetValue()))
	if err != nil {
		return toStatus(err)
	}
	sub, unsubscribe, err := sess.Subscribe()
	if err != nil {
		return toStatus(err)
	}
	defer unsubscribe()
	ctx := stream.Context()
	log := logx.WithSession(ctx, sess.ID())
	log.Info("grpc subscribe opened")
	sent := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("grpc subscribe closed", "sent", sent, "dropped", sub.Dropped())
			return status.FromContextError(ctx.Err()).Err()
		case delivery, ok := <-sub.C():
			if !ok {
				log.Info("grpc subscribe ended", "reason", "session closed", "sent", sent)
				return nil
			}
			if err := stream.SendMsg(wrapperspb.String(delivery.Envelope)); err != nil {
				return err
			}
			sent++
		}
	}
}

// Inject pushes text into the session named by the session metadata key.
func (s *Server) Inject(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(SessionMetadataKey)
	if len(values) != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "%s metadata is required", SessionMetadataKey)
	}
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	if err := s.Registry.Inject(schema.SessionID(values[0]), req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ListSessions returns every live session summary.
func (s *Server) ListSessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	items := make([]any, 0)
	for _, info := range s.Registry.List() {
		item, err := toGeneric(info)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode session: %v", err)
		}
		items = append(items, item)
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode sessions: %v", err)
	}
	return list, nil
}

// State returns one session summary including the host mirror.
func (s *Server) State(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	sess, err := s.Registry.Get(schema.SessionID(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	item, err := toGeneric(sess.Info())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode session: %v", err)
	}
	out, err := structpb.NewStruct(item)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode session: %v", err)
	}
	return out, nil
}

func (s *Server) unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc request", "method", info.FullMethod, "code", status.Code(err).String(), "duration_ms", time.Since(start).Milliseconds())
	return resp, err
}

func (s *Server) streamLogger(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.logger.Debug("grpc stream", "method", info.FullMethod, "code", status.Code(err).String(), "duration_ms", time.Since(start).Milliseconds())
	return err
}

func toGeneric(info core.SessionInfo) (map[string]any, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, schema.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, schema.ErrSessionClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, schema.ErrInvalidSessionID), errors.Is(err, schema.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("%v", err))
	}
}
