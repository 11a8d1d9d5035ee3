package replay

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// TimelineEntry represents one dumped race outcome ready for deterministic iteration.
type TimelineEntry struct {
	Sequence    uint64
	RaceID      string
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     json.RawMessage
}

// Loader rehydrates recorder dumps for offline inspection.
type Loader struct {
	label   string
	entries []TimelineEntry
}

// Load constructs a loader from the provided gzip dump path.
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var envelope rolledEnvelope
	if err := json.NewDecoder(reader).Decode(&envelope); err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(envelope.Races))
	for _, frame := range envelope.Races {
		captured, err := time.Parse(time.RFC3339Nano, frame.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse race captured_at: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Sequence:    frame.Sequence,
			RaceID:      frame.RaceID,
			SimulatedMs: frame.SimulatedMs,
			CapturedAt:  captured,
			Payload:     append(json.RawMessage(nil), frame.Payload...),
		})
	}

	//1.- Order by capture time, then by recorder sequence, so iteration is deterministic.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CapturedAt.Equal(entries[j].CapturedAt) {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].CapturedAt.Before(entries[j].CapturedAt)
	})

	return &Loader{label: envelope.Label, entries: entries}, nil
}

// Label returns the label the dump was rolled with.
func (l *Loader) Label() string {
	if l == nil {
		return ""
	}
	return l.label
}

// Replay iterates over the loaded entries in deterministic order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
