package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServerInterceptor logs finished calls and turns handler panics into Internal errors.
func GRPCServerInterceptor() grpc.ServerOption {
	l := grpcServerLogger(slog.Default())
	logOpts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
	}
	recoverOpts := []recovery.Option{
		recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
			slog.ErrorContext(ctx, "grpc: handler panic", "error", fmt.Sprint(p))
			return status.Error(codes.Internal, "internal error")
		}),
	}

	return grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(l, logOpts...),
		recovery.UnaryServerInterceptor(recoverOpts...),
	)
}

// GRPCStreamInterceptor is the streaming counterpart of GRPCServerInterceptor. The health
// Watch call is a stream.
func GRPCStreamInterceptor() grpc.ServerOption {
	return grpc.ChainStreamInterceptor(
		logging.StreamServerInterceptor(grpcServerLogger(slog.Default()), logging.WithLogOnEvents(logging.FinishCall)),
		recovery.StreamServerInterceptor(),
	)
}

func grpcServerLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), "grpc: "+msg, fields...)
	})
}
