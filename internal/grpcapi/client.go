package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/schema"
)

// Client talks to a termbridge server over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a new bridge client over a Unix domain socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("grpc socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	conn, err := grpc.NewClient(
		"passthrough:///"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Envelopes is an open Subscribe stream.
type Envelopes struct {
	stream grpc.ClientStream
}

// Next blocks for the next envelope. It returns io.EOF when the session ends.
func (e *Envelopes) Next() (string, error) {
	msg := new(wrapperspb.StringValue)
	if err := e.stream.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", wrapStatusError("subscribe", err)
	}
	return msg.GetValue(), nil
}

// Subscribe opens an envelope stream for one session. Cancel ctx to stop.
func (c *Client) Subscribe(ctx context.Context, id schema.SessionID) (*Envelopes, error) {
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, methodSubscribe)
	if err != nil {
		return nil, wrapStatusError("subscribe", err)
	}
	if err := stream.SendMsg(wrapperspb.String(string(id))); err != nil {
		return nil, wrapStatusError("subscribe", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, wrapStatusError("subscribe", err)
	}
	return &Envelopes{stream: stream}, nil
}

// Inject sends fire-and-forget input to a session.
func (c *Client) Inject(ctx context.Context, id schema.SessionID, text string) error {
	ctx = metadata.AppendToOutgoingContext(ctx, SessionMetadataKey, string(id))
	if err := c.conn.Invoke(ctx, methodInject, wrapperspb.String(text), new(emptypb.Empty)); err != nil {
		logStatusError(ctx, "inject", err)
		return wrapStatusError("inject", err)
	}
	return nil
}

// ListSessions returns live session summaries.
func (c *Client) ListSessions(ctx context.Context) ([]core.SessionInfo, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodListSessions, new(emptypb.Empty), out); err != nil {
		logStatusError(ctx, "list sessions", err)
		return nil, wrapStatusError("list sessions", err)
	}
	var infos []core.SessionInfo
	if err := fromGeneric(out.AsSlice(), &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// State returns the summary of one session.
func (c *Client) State(ctx context.Context, id schema.SessionID) (core.SessionInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodState, wrapperspb.String(string(id)), out); err != nil {
		logStatusError(ctx, "state", err)
		return core.SessionInfo{}, wrapStatusError("state", err)
	}
	var info core.SessionInfo
	if err := fromGeneric(out.AsMap(), &info); err != nil {
		return core.SessionInfo{}, err
	}
	return info, nil
}

func fromGeneric(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode session info: %w", err)
	}
	return nil
}

func logStatusError(ctx context.Context, op string, err error) {
	st, ok := status.FromError(err)
	if !ok {
		pslog.Ctx(ctx).Warn("grpc call failed", "op", op, "err", err)
		return
	}
	pslog.Ctx(ctx).Debug("grpc call failed", "op", op, "code", st.Code().String(), "message", st.Message())
}

// wrapStatusError maps gRPC status codes back onto schema sentinels.
func wrapStatusError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, schema.ErrSessionNotFound)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", op, schema.ErrSessionClosed)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", op, schema.ErrInvalidRequest, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
