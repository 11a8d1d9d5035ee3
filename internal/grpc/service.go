package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/playback"
	"duckrace/server/internal/race"
)

// Runner simulates races for RPC callers.
type Runner interface {
	Run(ctx context.Context, req arena.Request) (arena.Outcome, error)
}

// Option customises the behaviour of the gRPC race service.
type Option func(*Service)

// WithCodecs overrides the frame codecs offered to timeline clients.
func WithCodecs(codecs Codecs) Option {
	return func(s *Service) {
		if len(codecs) > 0 {
			s.codecs = codecs
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements RaceServer on top of an arena.
type Service struct {
	runner Runner
	codecs Codecs
	log    *logging.Logger
}

// NewService wires the race service to runner.
func NewService(runner Runner, opts ...Option) (*Service, error) {
	service := &Service{runner: runner, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	if service.codecs == nil {
		codecs, err := DefaultCodecs()
		if err != nil {
			return nil, err
		}
		service.codecs = codecs
	}
	return service, nil
}

// Simulate runs one race and returns the outcome document.
func (s *Service) Simulate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "simulation unavailable")
	}
	var request arena.Request
	if err := decodeStruct(req, &request); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	outcome, err := s.runner.Run(ctx, request)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := encodeStruct(outcome)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode outcome: %v", err)
	}
	return out, nil
}

// StreamTimeline runs one race and replays it to the caller at the requested pace.
func (s *Service) StreamTimeline(req *structpb.Struct, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.runner == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	var request TimelineRequest
	if err := decodeStruct(req, &request); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	codec, err := s.codecs.Lookup(request.Encoding)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	//1.- Simulate up front; the stream only paces delivery of a finished result.
	outcome, err := s.runner.Run(ctx, request.Request)
	if err != nil {
		return toStatus(err)
	}
	if err := stream.SendHeader(metadata.Pairs(EncodingMetadataKey, codec.Name())); err != nil {
		return err
	}
	send := func(frame TimelineFrame) error {
		payload, err := json.Marshal(frame)
		if err != nil {
			return status.Errorf(codes.Internal, "encode frame: %v", err)
		}
		compressed, err := codec.Compress(payload)
		if err != nil {
			return status.Errorf(codes.Internal, "compress frame: %v", err)
		}
		return stream.Send(wrapperspb.Bytes(compressed))
	}

	cursor := playback.NewCursor(outcome.Result)
	if err := send(TimelineFrame{
		Type:         FrameStart,
		RaceID:       outcome.RaceID,
		Title:        outcome.Title,
		Mode:         outcome.Mode,
		Seed:         outcome.Seed,
		DurationMs:   outcome.Result.Duration,
		Participants: request.Participants,
		Positions:    cursor.Frame(0).Positions,
		Events:       cursor.Advance(0),
	}); err != nil {
		return err
	}

	//2.- Pace ticks with the playback pump until every event has been delivered.
	hz := request.FrameHz
	if hz <= 0 {
		hz = DefaultFrameHz
	}
	var sendErr error
	pump := playback.NewPump(hz, request.Speed, func(elapsed time.Duration) bool {
		elapsedMs := float64(elapsed) / float64(time.Millisecond)
		elapsedMs = min(elapsedMs, float64(cursor.Duration()))
		frame := cursor.Frame(elapsedMs)
		if sendErr = send(TimelineFrame{
			Type:      FrameTick,
			RaceID:    outcome.RaceID,
			ElapsedMs: elapsedMs,
			Positions: frame.Positions,
			Events:    cursor.Advance(elapsedMs),
		}); sendErr != nil {
			return false
		}
		return !cursor.Done()
	})
	if err := pump.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return status.Error(codes.Canceled, "stream cancelled")
		}
		return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
	}
	if sendErr != nil {
		return sendErr
	}

	s.log.Debug("timeline streamed", logging.RaceID(outcome.RaceID), logging.String("encoding", codec.Name()))
	return send(TimelineFrame{
		Type:      FrameFinish,
		RaceID:    outcome.RaceID,
		ElapsedMs: float64(outcome.Result.Duration),
		Standings: outcome.Result.Standings,
		Signature: outcome.Signature,
	})
}

// toStatus maps arena errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, arena.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, race.ErrInvalidConfig):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// decodeStruct converts a protobuf Struct into a Go value through its JSON form.
func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return fmt.Errorf("request body required")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// encodeStruct converts a Go value into a protobuf Struct through its JSON form.
func encodeStruct(value any) (*structpb.Struct, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ RaceServer = (*Service)(nil)
