package grpcapi

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/termbridge/schema"
)

func TestWrapStatusError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: status.Error(codes.NotFound, "gone"), want: schema.ErrSessionNotFound},
		{name: "closed", err: status.Error(codes.FailedPrecondition, "closed"), want: schema.ErrSessionClosed},
		{name: "invalid", err: status.Error(codes.InvalidArgument, "bad"), want: schema.ErrInvalidRequest},
		{name: "canceled", err: status.Error(codes.Canceled, "stop"), want: context.Canceled},
		{name: "context", err: context.DeadlineExceeded, want: context.DeadlineExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := wrapStatusError("op", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestToStatusRoundTrip(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{err: schema.ErrSessionNotFound, code: codes.NotFound},
		{err: schema.ErrSessionClosed, code: codes.FailedPrecondition},
		{err: schema.ErrInvalidSessionID, code: codes.InvalidArgument},
		{err: errors.New("boom"), code: codes.Internal},
	}
	for _, tc := range cases {
		got := status.Code(toStatus(tc.err))
		if got != tc.code {
			t.Fatalf("toStatus(%v) = %s, want %s", tc.err, got, tc.code)
		}
	}
	if toStatus(nil) != nil {
		t.Fatalf("expected nil status for nil error")
	}
}
