package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"duckrace/server/internal/race"
)

// ErrCorruptBundle reports a bundle whose artefacts cannot be decoded.
var ErrCorruptBundle = errors.New("replay: corrupt bundle")

// Frame is one decoded progress snapshot from a bundle.
type Frame struct {
	Index      uint64
	CapturedAt time.Time
	Snapshot   race.Snapshot
}

// Bundle is a fully decoded replay directory.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	Summary  *Summary
	Events   []race.Event
	Frames   []Frame
}

// OpenBundle decodes every artefact inside dir.
func OpenBundle(dir string) (*Bundle, error) {
	bundle := &Bundle{Dir: dir}
	if err := readJSON(filepath.Join(dir, manifestFile), &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	header, err := ReadHeader(filepath.Join(dir, headerFile))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	bundle.Header = header

	summaryPath := bundle.Manifest.SummaryPath
	if summaryPath == "" {
		summaryPath = summaryFile
	}
	var summary Summary
	switch err := readJSON(filepath.Join(dir, summaryPath), &summary); {
	case err == nil:
		bundle.Summary = &summary
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read summary: %w", err)
	}

	if bundle.Events, err = readEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return nil, err
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Result reconstructs the race result recorded in the bundle.
func (b *Bundle) Result() (race.Result, error) {
	if b == nil {
		return race.Result{}, fmt.Errorf("bundle not loaded")
	}
	if b.Summary == nil {
		return race.Result{}, fmt.Errorf("%w: summary missing", ErrCorruptBundle)
	}
	if b.Summary.EventCount != len(b.Events) || b.Summary.SnapshotCount != len(b.Frames) {
		return race.Result{}, fmt.Errorf("%w: summary expects %d events and %d frames, found %d and %d",
			ErrCorruptBundle, b.Summary.EventCount, b.Summary.SnapshotCount, len(b.Events), len(b.Frames))
	}
	snapshots := make([]race.Snapshot, len(b.Frames))
	for i, frame := range b.Frames {
		snapshots[i] = frame.Snapshot
	}
	standings := make([]race.Standing, len(b.Summary.Standings))
	copy(standings, b.Summary.Standings)
	events := make([]race.Event, len(b.Events))
	copy(events, b.Events)
	return race.Result{
		Standings:         standings,
		Events:            events,
		ProgressSnapshots: snapshots,
		Duration:          b.Summary.Duration,
		Config:            b.Summary.Config,
		Fizzles:           b.Summary.Fizzles,
		TimedOut:          b.Summary.TimedOut,
	}, nil
}

func readEvents(path string) ([]race.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var events []race.Event
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("%w: events line %d: %v", ErrCorruptBundle, line, err)
		}
		event, err := race.DecodeEvent(record.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: events line %d: %v", ErrCorruptBundle, line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, err)
	}
	return events, nil
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var frames []Frame
	header := make([]byte, frameHeaderSize)
	for {
		//1.- A clean EOF on a frame boundary ends the stream; anything else is truncation.
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("%w: frame header: %v", ErrCorruptBundle, err)
		}
		frame := Frame{
			Index:      binary.LittleEndian.Uint64(header[0:8]),
			CapturedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
		}
		frame.Snapshot.TimeMs = int64(binary.LittleEndian.Uint64(header[8:16]))
		payload := make([]byte, binary.LittleEndian.Uint32(header[24:28]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("%w: frame %d payload: %v", ErrCorruptBundle, frame.Index, err)
		}
		//2.- Decode the positions so callers receive ready-to-use snapshots.
		if err := json.Unmarshal(payload, &frame.Snapshot.Positions); err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrCorruptBundle, frame.Index, err)
		}
		frames = append(frames, frame)
	}
}

// ListHeaders reads the header of every bundle directly under root, skipping entries without one.
func ListHeaders(root string) ([]Header, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	headers := make([]Header, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		header, err := ReadHeader(filepath.Join(root, entry.Name(), headerFile))
		if err != nil {
			continue
		}
		header.FilePointer = filepath.Join(entry.Name(), header.FilePointer)
		headers = append(headers, header)
	}
	return headers, nil
}
