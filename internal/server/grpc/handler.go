package grpc

import (
	"context"

	"github.com/dmitrijs2005/tokenkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const SessionsServiceName = "tokenkeeper.v1.Sessions"

// sessionsServer is the contract behind sessionsServiceDesc. Messages are
// the well-known Empty and Struct types, so no generated code is needed.
type sessionsServer interface {
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RevokeAll(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var sessionsServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionsServiceName,
	HandlerType: (*sessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: unaryHandler("WhoAmI", sessionsServer.WhoAmI)},
		{MethodName: "RevokeAll", Handler: unaryHandler("RevokeAll", sessionsServer.RevokeAll)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tokenkeeper/v1/sessions.proto",
}

func unaryHandler(method string, call func(sessionsServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + SessionsServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(sessionsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(sessionsServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	return structpb.NewStruct(map[string]any{
		"userId":   id.UserID,
		"userName": id.UserName,
		"iat":      id.IssuedAt.Unix(),
		"exp":      id.ExpiresAt.Unix(),
	})
}

// RevokeAll ends every session of the caller.
func (s *GRPCServer) RevokeAll(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	n, err := s.sessions.RevokeAll(ctx, id.UserID)
	if err != nil {
		s.logger.Error(ctx, "error revoking sessions", "user_id", id.UserID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	s.logger.Info(ctx, "sessions revoked over gRPC", "user_id", id.UserID, "count", n)
	return structpb.NewStruct(map[string]any{"revoked": n})
}
