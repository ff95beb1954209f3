package grpc

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// accessTokenInterceptor runs the auth guard on every call except health
// checks. The bearer token travels in the "authorization" metadata key.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
		return handler(ctx, req)
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AuthorizationHeaderName); len(values) > 0 {
			header = values[0]
		}
	}

	id, err := s.guard.Authenticate(ctx, header)
	if err != nil {
		if s.metrics != nil {
			s.metrics.GuardRejections.WithLabelValues(auth.RejectionReason(err)).Inc()
		}
		s.logger.Debug(ctx, "call rejected by auth guard", "method", info.FullMethod, "error", err)
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	return handler(auth.WithIdentity(ctx, id), req)
}
