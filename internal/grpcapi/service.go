// Package grpcapi exposes bridge sessions to local hosts over gRPC on a
// unix socket. The service uses protobuf well-known types as messages so no
// generated code is required.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "termbridge.v1.Bridge"

	methodSubscribe    = "/" + serviceName + "/Subscribe"
	methodInject       = "/" + serviceName + "/Inject"
	methodListSessions = "/" + serviceName + "/ListSessions"
	methodState        = "/" + serviceName + "/State"

	// SessionMetadataKey carries the target session id on Inject calls.
	SessionMetadataKey = "x-termbridge-session"
)

// bridgeServer is the server side of termbridge.v1.Bridge.
//
//	service Bridge {
//	  rpc Subscribe(google.protobuf.StringValue) returns (stream google.protobuf.StringValue);
//	  rpc Inject(google.protobuf.StringValue) returns (google.protobuf.Empty);
//	  rpc ListSessions(google.protobuf.Empty) returns (google.protobuf.ListValue);
//	  rpc State(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	}
type bridgeServer interface {
	Subscribe(*wrapperspb.StringValue, grpc.ServerStream) error
	Inject(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	State(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*bridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Inject", Handler: injectHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
		{MethodName: "State", Handler: stateHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "termbridge/v1/bridge.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(bridgeServer).Subscribe(in, stream)
}

func injectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgeServer).Inject(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInject}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bridgeServer).Inject(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgeServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListSessions}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bridgeServer).ListSessions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func stateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgeServer).State(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodState}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(bridgeServer).State(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
