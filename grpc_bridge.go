package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	configpkg "duckrace/server/internal/config"
	grpcstream "duckrace/server/internal/grpc"
	"duckrace/server/internal/logging"
)

// traceMetadataKey carries the caller supplied trace identifier on RPCs.
const traceMetadataKey = "x-trace-id"

// newGRPCServer builds the race RPC server with the configured security and trace interceptors.
func newGRPCServer(cfg *configpkg.Config, runner grpcstream.Runner, logger *logging.Logger) (*grpc.Server, func(), error) {
	if logger == nil {
		logger = logging.L()
	}
	//1.- Security options come first so unauthenticated calls never reach the trace layer.
	opts, cleanup, err := configureGRPCSecurity(cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(newTraceUnaryInterceptor(logger)),
		grpc.ChainStreamInterceptor(newTraceStreamInterceptor(logger)),
	)

	//2.- Register the race service against the shared arena.
	service, err := grpcstream.NewService(runner, grpcstream.WithLogger(logger))
	if err != nil {
		return nil, cleanup, fmt.Errorf("build race service: %w", err)
	}
	server := grpc.NewServer(opts...)
	grpcstream.Register(server, service)
	return server, cleanup, nil
}

func incomingTraceID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(traceMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func newTraceUnaryInterceptor(base *logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, logger, _ := logging.WithTrace(ctx, base, incomingTraceID(ctx))
		started := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc served",
			logging.String("method", info.FullMethod),
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed_ms", time.Since(started)),
		)
		return resp, err
	}
}

// tracedStream swaps the stream context for one carrying the trace logger.
type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func newTraceStreamInterceptor(base *logging.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, logger, _ := logging.WithTrace(ss.Context(), base, incomingTraceID(ss.Context()))
		started := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		logger.Debug("stream served",
			logging.String("method", info.FullMethod),
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed_ms", time.Since(started)),
		)
		return err
	}
}
