package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "duckrace.RaceService"
	// SimulateMethod is the full method name of the unary race call.
	SimulateMethod = "/" + ServiceName + "/Simulate"
	// StreamTimelineMethod is the full method name of the paced timeline stream.
	StreamTimelineMethod = "/" + ServiceName + "/StreamTimeline"
	// EncodingMetadataKey advertises the codec used for timeline frames.
	EncodingMetadataKey = "x-duckrace-encoding"
)

// RaceServer is the server side of duckrace.RaceService. Messages are well-known protobuf types
// carrying JSON documents, so no generated code is needed.
type RaceServer interface {
	Simulate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamTimeline(req *structpb.Struct, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// ServiceDesc registers RaceServer implementations with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RaceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Simulate", Handler: simulateHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTimeline", Handler: streamTimelineHandler, ServerStreams: true},
	},
	Metadata: "duckrace/race.proto",
}

// Register attaches srv to registrar.
func Register(registrar grpc.ServiceRegistrar, srv RaceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func simulateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaceServer).Simulate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SimulateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaceServer).Simulate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamTimelineHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RaceServer).StreamTimeline(in, &grpc.GenericServerStream[structpb.Struct, wrapperspb.BytesValue]{ServerStream: stream})
}
