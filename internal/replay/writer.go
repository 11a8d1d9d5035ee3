package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"duckrace/server/internal/race"
)

var raceIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	manifestFile = "manifest.json"
	headerFile   = "header.json"
	summaryFile  = "summary.json"
	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"

	// frameHeaderSize is index u64, simulated ms u64, captured-at unix nanos u64, payload length u32.
	frameHeaderSize = 8 + 8 + 8 + 4
)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version            int    `json:"version"`
	CreatedAt          string `json:"created_at"`
	SnapshotIntervalMs int64  `json:"snapshot_interval_ms"`
	EventsPath         string `json:"events_path"`
	FramesPath         string `json:"frames_path"`
	SummaryPath        string `json:"summary_path"`
}

// EventRecord is one line of the compressed event log.
type EventRecord struct {
	TimeMs  int64           `json:"time_ms"`
	Kind    string          `json:"kind"`
	ActorID string          `json:"actor_id"`
	Payload json.RawMessage `json:"payload"`
}

// Summary is the final standings document of a bundle.
type Summary struct {
	Standings     []race.Standing `json:"standings"`
	Duration      int64           `json:"duration"`
	Fizzles       int             `json:"fizzles"`
	TimedOut      bool            `json:"timed_out"`
	EventCount    int             `json:"event_count"`
	SnapshotCount int             `json:"snapshot_count"`
	Config        race.Config     `json:"config"`
}

// Writer streams one race's timeline into a bundle directory.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	created     time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	frames      uint64
	events      int
	meta        Metadata
	summary     *Summary
	closed      bool
}

// NewWriter prepares the bundle directory under root and opens the compressed sinks.
func NewWriter(root, raceID string, snapshotIntervalMs int64, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := raceIDCleaner.ReplaceAllString(raceID, "")
	if cleaned == "" {
		cleaned = "race"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:            1,
		CreatedAt:          created.Format(time.RFC3339Nano),
		SnapshotIntervalMs: snapshotIntervalMs,
		EventsPath:         eventsFile,
		FramesPath:         framesFile,
		SummaryPath:        summaryFile,
	}
	if err := writeJSON(filepath.Join(path, manifestFile), manifest); err != nil {
		frameStream.Close()
		frameFile.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         path,
		now:         clock,
		created:     created,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
		meta:        Metadata{RaceID: raceID},
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetMetadata configures the header persisted when the writer closes.
func (w *Writer) SetMetadata(meta Metadata) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.meta = meta
	w.mu.Unlock()
}

// SetSummary configures the standings document persisted when the writer closes.
func (w *Writer) SetSummary(summary Summary) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.summary = &summary
	w.mu.Unlock()
}

// AppendEvent writes one race event as a JSON line to the compressed event log.
func (w *Writer) AppendEvent(event race.Event) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	if event == nil {
		return fmt.Errorf("event required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	head := event.Header()
	line, err := json.Marshal(EventRecord{TimeMs: head.TimeMs, Kind: event.Kind(), ActorID: head.ActorID, Payload: payload})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.events++
	return nil
}

// AppendFrame writes one progress snapshot as a length-prefixed frame.
func (w *Writer) AppendFrame(snapshot race.Snapshot) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	payload, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return err
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], w.frames)
	binary.LittleEndian.PutUint64(header[8:16], uint64(snapshot.TimeMs))
	binary.LittleEndian.PutUint64(header[16:24], uint64(captured.UnixNano()))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(payload)))
	if _, err := w.frameStream.Write(header); err != nil {
		return err
	}
	if _, err := w.frameStream.Write(payload); err != nil {
		return err
	}
	w.frames++
	return nil
}

// Flush pushes buffered events and frames to disk.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.eventStream.Flush(); err != nil {
		return err
	}
	return w.frameStream.Flush()
}

// Close writes the header and summary, then releases every file handle.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Persist the catalogue documents before dismantling the sinks.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		RaceID:        w.meta.RaceID,
		Title:         w.meta.Title,
		Mode:          w.meta.Mode,
		Seed:          w.meta.Seed,
		CreatedAt:     w.created.Format(time.RFC3339Nano),
		FilePointer:   manifestFile,
	}
	if w.meta.Tuning.Distance > 0 {
		tuning := w.meta.Tuning
		header.Tuning = &tuning
	}
	keep(WriteHeader(filepath.Join(w.dir, headerFile), header))
	if w.summary != nil {
		keep(writeJSON(filepath.Join(w.dir, summaryFile), w.summary))
	}
	//2.- Attempt every close and surface the first failure.
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// Persist writes a complete race into a new bundle under root and returns its directory.
func Persist(root string, meta Metadata, result race.Result, clock func() time.Time) (string, error) {
	writer, _, err := NewWriter(root, meta.RaceID, result.Config.SnapshotIntervalMs, clock)
	if err != nil {
		return "", err
	}
	if meta.Tuning.Distance == 0 {
		meta.Tuning = result.Config
	}
	writer.SetMetadata(meta)
	for _, event := range result.Events {
		if err := writer.AppendEvent(event); err != nil {
			writer.Close()
			return "", fmt.Errorf("append event: %w", err)
		}
	}
	for _, snapshot := range result.ProgressSnapshots {
		if err := writer.AppendFrame(snapshot); err != nil {
			writer.Close()
			return "", fmt.Errorf("append frame: %w", err)
		}
	}
	writer.SetSummary(Summary{
		Standings:     result.Standings,
		Duration:      result.Duration,
		Fizzles:       result.Fizzles,
		TimedOut:      result.TimedOut,
		EventCount:    len(result.Events),
		SnapshotCount: len(result.ProgressSnapshots),
		Config:        result.Config,
	})
	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.Directory(), nil
}
