// Package playback walks a finished race forward in wall-clock time for spectators.
package playback

import (
	"sort"

	"duckrace/server/internal/race"
)

// Position is one racer's interpolated progress at a playback instant.
type Position struct {
	ID       string  `json:"id"`
	Meters   float64 `json:"meters"`
	Progress float64 `json:"progress"`
}

// Frame is the interpolated state of the race at ElapsedMs.
type Frame struct {
	ElapsedMs float64    `json:"elapsedMs"`
	Positions []Position `json:"positions"`
}

// Cursor replays a result forward only. It is not safe for concurrent use.
type Cursor struct {
	result   race.Result
	distance float64
	next     int
	elapsed  float64
}

// NewCursor prepares a cursor positioned at the start of the race.
func NewCursor(result race.Result) *Cursor {
	return &Cursor{result: result, distance: result.Config.Distance}
}

// Duration reports the simulated length of the race in milliseconds.
func (c *Cursor) Duration() int64 { return c.result.Duration }

// Frame interpolates every racer's meters between the snapshots bracketing elapsedMs.
func (c *Cursor) Frame(elapsedMs float64) Frame {
	snaps := c.result.ProgressSnapshots
	frame := Frame{ElapsedMs: elapsedMs}
	if len(snaps) == 0 {
		return frame
	}

	//1.- Find the first snapshot at or after the requested instant.
	idx := sort.Search(len(snaps), func(i int) bool { return float64(snaps[i].TimeMs) >= elapsedMs })
	var from, to race.Snapshot
	switch {
	case idx == 0:
		from, to = snaps[0], snaps[0]
	case idx >= len(snaps):
		from, to = snaps[len(snaps)-1], snaps[len(snaps)-1]
	default:
		from, to = snaps[idx-1], snaps[idx]
	}

	//2.- Blend linearly by id; racers missing from the later snapshot hold their last value.
	alpha := 0.0
	if span := float64(to.TimeMs - from.TimeMs); span > 0 {
		alpha = (elapsedMs - float64(from.TimeMs)) / span
	}
	target := make(map[string]float64, len(to.Positions))
	for _, entry := range to.Positions {
		target[entry.ID] = entry.MetersTraveled
	}
	frame.Positions = make([]Position, len(from.Positions))
	for i, entry := range from.Positions {
		meters := entry.MetersTraveled
		if next, ok := target[entry.ID]; ok {
			meters += (next - meters) * alpha
		}
		progress := 0.0
		if c.distance > 0 {
			progress = min(1, meters/c.distance)
		}
		frame.Positions[i] = Position{ID: entry.ID, Meters: meters, Progress: progress}
	}
	return frame
}

// Advance returns the events whose time is at or before elapsedMs and that were not returned yet.
// Moving backwards returns nothing.
func (c *Cursor) Advance(elapsedMs float64) []race.Event {
	if elapsedMs < c.elapsed {
		return nil
	}
	c.elapsed = elapsedMs
	start := c.next
	for c.next < len(c.result.Events) && float64(c.result.Events[c.next].Header().TimeMs) <= elapsedMs {
		c.next++
	}
	if start == c.next {
		return nil
	}
	out := make([]race.Event, c.next-start)
	copy(out, c.result.Events[start:c.next])
	return out
}

// Done reports whether playback reached the end of the race and drained every event.
func (c *Cursor) Done() bool {
	return c.elapsed >= float64(c.result.Duration) && c.next >= len(c.result.Events)
}
