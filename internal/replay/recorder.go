package replay

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRecorderCapacity bounds how many outcomes a recorder keeps before dropping the oldest.
const DefaultRecorderCapacity = 256

// RaceFrame stores the encoded outcome of one finished race.
type RaceFrame struct {
	Sequence    uint64
	RaceID      string
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// Recorder buffers recently finished race outcomes until an operator dumps them to disk.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	capacity    int
	frames      []RaceFrame
	sequence    uint64
	bytes       int64
	dropped     int64
	dumps       int64
	lastDump    time.Time
	lastDumpURI string
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	BufferedFrames int
	BufferedBytes  int64
	Dropped        int64
	Dumps          int64
	LastDumpURI    string
	LastDumpTime   time.Time
}

// NewRecorder constructs a recorder that writes gzip JSON artefacts into dir.
func NewRecorder(dir string, capacity int, clock func() time.Time) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, now: clock, capacity: capacity}, nil
}

// RecordRace appends the encoded outcome of a finished race to the buffer.
func (r *Recorder) RecordRace(raceID string, simulatedMs int64, payload []byte) {
	if r == nil || len(payload) == 0 {
		return
	}
	clone := append([]byte(nil), payload...)
	captured := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence++
	r.frames = append(r.frames, RaceFrame{
		Sequence:    r.sequence,
		RaceID:      raceID,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured,
		Payload:     clone,
	})
	r.bytes += int64(len(clone))
	//1.- Drop the oldest outcomes once the buffer exceeds its capacity.
	for len(r.frames) > r.capacity {
		r.bytes -= int64(len(r.frames[0].Payload))
		r.frames = r.frames[1:]
		r.dropped++
	}
}

type rolledFrame struct {
	Sequence    uint64          `json:"sequence"`
	RaceID      string          `json:"race_id"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  string          `json:"captured_at"`
	Payload     json.RawMessage `json:"payload"`
}

type rolledEnvelope struct {
	SavedAt string        `json:"saved_at"`
	Label   string        `json:"label"`
	Races   []rolledFrame `json:"races"`
}

// Roll writes the buffered outcomes to a gzip JSON file and clears the buffer.
func (r *Recorder) Roll(label string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	//1.- Bail out gracefully when nothing has been recorded yet.
	if len(r.frames) == 0 {
		return "", fmt.Errorf("no race outcomes buffered")
	}

	cleaned := raceIDCleaner.ReplaceAllString(label, "")
	if cleaned == "" {
		cleaned = "races"
	}
	saved := r.now().UTC()
	timestamp := saved.Format("20060102T150405Z")
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.json.gz", cleaned, timestamp))

	envelope := rolledEnvelope{SavedAt: timestamp, Label: cleaned, Races: make([]rolledFrame, len(r.frames))}
	for idx, frame := range r.frames {
		envelope.Races[idx] = rolledFrame{
			Sequence:    frame.Sequence,
			RaceID:      frame.RaceID,
			SimulatedMs: frame.SimulatedMs,
			CapturedAt:  frame.CapturedAt.Format(time.RFC3339Nano),
			Payload:     json.RawMessage(frame.Payload),
		}
	}

	//2.- Stream the envelope through gzip so large dumps stay compact on disk.
	if err := writeGzipJSON(path, envelope); err != nil {
		return "", err
	}

	//3.- Reset the buffer so the next batch starts empty.
	r.frames = nil
	r.bytes = 0
	r.dumps++
	r.lastDump = saved
	r.lastDumpURI = path
	return path, nil
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		BufferedFrames: len(r.frames),
		BufferedBytes:  r.bytes,
		Dropped:        r.dropped,
		Dumps:          r.dumps,
		LastDumpURI:    r.lastDumpURI,
		LastDumpTime:   r.lastDump,
	}
}

func writeGzipJSON(path string, value any) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	zw := gzip.NewWriter(file)
	if err := json.NewEncoder(zw).Encode(value); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
