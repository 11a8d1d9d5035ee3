package grpc

import (
	"encoding/json"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/playback"
	"duckrace/server/internal/race"
)

// Timeline frame types, in stream order.
const (
	FrameStart  = "start"
	FrameTick   = "tick"
	FrameFinish = "finish"
)

// TimelineRequest is a race request plus playback pacing.
type TimelineRequest struct {
	arena.Request
	// Speed multiplies simulated time per wall-clock second. Non-positive means real time.
	Speed float64 `json:"speed,omitempty"`
	// FrameHz is the wall-clock frame rate. Non-positive selects DefaultFrameHz.
	FrameHz float64 `json:"frameHz,omitempty"`
	// Encoding names the frame codec: gzip, snappy or zstd.
	Encoding string `json:"encoding,omitempty"`
}

// DefaultFrameHz is the frame rate used when a timeline request names none.
const DefaultFrameHz = 20

// TimelineFrame is the JSON document carried, compressed, by each streamed BytesValue.
type TimelineFrame struct {
	Type         string              `json:"type"`
	RaceID       string              `json:"raceId"`
	ElapsedMs    float64             `json:"elapsedMs"`
	Title        string              `json:"title,omitempty"`
	Mode         string              `json:"mode,omitempty"`
	Seed         int64               `json:"seed,omitempty"`
	DurationMs   int64               `json:"durationMs,omitempty"`
	Participants []race.Participant  `json:"participants,omitempty"`
	Positions    []playback.Position `json:"positions,omitempty"`
	Events       []race.Event        `json:"events,omitempty"`
	Standings    []race.Standing     `json:"standings,omitempty"`
	Signature    string              `json:"signature,omitempty"`
}

// UnmarshalJSON restores the concrete event types.
func (f *TimelineFrame) UnmarshalJSON(data []byte) error {
	type plain TimelineFrame
	var shadow struct {
		plain
		Events []json.RawMessage `json:"events,omitempty"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	*f = TimelineFrame(shadow.plain)
	f.Events = nil
	for _, raw := range shadow.Events {
		event, err := race.DecodeEvent(raw)
		if err != nil {
			return err
		}
		f.Events = append(f.Events, event)
	}
	return nil
}
