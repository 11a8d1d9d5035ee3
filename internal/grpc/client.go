package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"duckrace/server/internal/arena"
)

// Client calls duckrace.RaceService over any client connection.
type Client struct {
	cc     grpc.ClientConnInterface
	codecs Codecs
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) (*Client, error) {
	codecs, err := DefaultCodecs()
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, codecs: codecs}, nil
}

// Simulate runs one race remotely.
func (c *Client) Simulate(ctx context.Context, req arena.Request, opts ...grpc.CallOption) (arena.Outcome, error) {
	in, err := encodeStruct(req)
	if err != nil {
		return arena.Outcome{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SimulateMethod, in, out, opts...); err != nil {
		return arena.Outcome{}, err
	}
	var outcome arena.Outcome
	if err := decodeStruct(out, &outcome); err != nil {
		return arena.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, nil
}

// TimelineStream yields decoded timeline frames.
type TimelineStream struct {
	stream grpc.ClientStream
	codec  Compressor
}

// StreamTimeline starts a paced timeline stream.
func (c *Client) StreamTimeline(ctx context.Context, req TimelineRequest, opts ...grpc.CallOption) (*TimelineStream, error) {
	in, err := encodeStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamTimelineMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	//1.- The header names the codec chosen by the server.
	header, err := stream.Header()
	if err != nil {
		return nil, err
	}
	codec, err := c.codecs.Lookup(first(header, EncodingMetadataKey))
	if err != nil {
		return nil, err
	}
	return &TimelineStream{stream: stream, codec: codec}, nil
}

// Encoding reports the frame codec in use.
func (t *TimelineStream) Encoding() string { return t.codec.Name() }

// Recv returns the next frame, or io.EOF once the server completes the stream.
func (t *TimelineStream) Recv() (*TimelineFrame, error) {
	msg := new(wrapperspb.BytesValue)
	if err := t.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	payload, err := t.codec.Decompress(msg.GetValue())
	if err != nil {
		return nil, err
	}
	frame := new(TimelineFrame)
	if err := json.Unmarshal(payload, frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

// Collect drains the stream.
func (t *TimelineStream) Collect() ([]*TimelineFrame, error) {
	var frames []*TimelineFrame
	for {
		frame, err := t.Recv()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
