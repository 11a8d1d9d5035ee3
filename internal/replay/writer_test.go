package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"

	"duckrace/server/internal/race"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func simulate(t *testing.T, seed int64) race.Result {
	t.Helper()
	participants := []race.Participant{
		{ID: "a", Name: "Quackers"},
		{ID: "b", Name: "Puddles", Color: "#ffcc00"},
		{ID: "c", Name: "Waddles"},
	}
	result, err := race.Simulate(participants, race.WithSeed(seed))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	return result
}

func TestPersistRoundTripsResult(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	result := simulate(t, 7)

	dir, err := Persist(root, Metadata{RaceID: "race-1", Title: "Pond Cup", Mode: "casual", Seed: 7}, result, fixedClock(now))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if filepath.Base(dir) != "race-1-20250301T100000Z" {
		t.Fatalf("unexpected bundle directory %q", dir)
	}

	bundle, err := OpenBundle(dir)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	if bundle.Header.RaceID != "race-1" || bundle.Header.Seed != 7 || bundle.Header.Tuning == nil {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if bundle.Manifest.SnapshotIntervalMs != result.Config.SnapshotIntervalMs {
		t.Fatalf("manifest interval %d, want %d", bundle.Manifest.SnapshotIntervalMs, result.Config.SnapshotIntervalMs)
	}
	for i, frame := range bundle.Frames {
		if frame.Index != uint64(i) || !frame.CapturedAt.Equal(now) {
			t.Fatalf("frame %d has index %d captured %v", i, frame.Index, frame.CapturedAt)
		}
	}

	restored, err := bundle.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	want, _ := json.Marshal(result)
	got, _ := json.Marshal(restored)
	if !bytes.Equal(want, got) {
		t.Fatalf("restored result differs\nwant %s\ngot  %s", want, got)
	}
}

func TestEventLogIsSnappyJSONLines(t *testing.T) {
	root := t.TempDir()
	result := simulate(t, 11)
	dir, err := Persist(root, Metadata{RaceID: "lines"}, result, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, eventsFile))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	count := 0
	for scanner.Scan() {
		var record EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d: %v", count+1, err)
		}
		event := result.Events[count]
		if record.Kind != event.Kind() || record.TimeMs != event.Header().TimeMs || record.ActorID != event.Header().ActorID {
			t.Fatalf("line %d mismatch: %+v vs %s", count+1, record, event.Kind())
		}
		count++
	}
	if count != len(result.Events) {
		t.Fatalf("expected %d lines, got %d", len(result.Events), count)
	}
}

func TestWriterRejectsAppendsAfterClose(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "closed", 500, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.AppendFrame(race.Snapshot{}); err == nil {
		t.Fatal("expected append after close to fail")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestBundleResultDetectsMissingFrames(t *testing.T) {
	root := t.TempDir()
	result := simulate(t, 3)
	dir, err := Persist(root, Metadata{RaceID: "short"}, result, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	bundle, err := OpenBundle(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bundle.Frames = bundle.Frames[:len(bundle.Frames)-1]
	if _, err := bundle.Result(); !errors.Is(err, ErrCorruptBundle) {
		t.Fatalf("expected ErrCorruptBundle, got %v", err)
	}
}

func TestHeaderValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.json")
	if err := WriteHeader(path, Header{SchemaVersion: HeaderSchemaVersion, FilePointer: manifestFile}); err == nil {
		t.Fatal("expected missing race id to be rejected")
	}
	header := Header{SchemaVersion: HeaderSchemaVersion, RaceID: "r", Seed: 42, FilePointer: manifestFile}
	if err := WriteHeader(path, header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	loaded, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if loaded.RaceID != "r" || loaded.Seed != 42 {
		t.Fatalf("unexpected header %+v", loaded)
	}
}

func TestListHeadersSkipsForeignEntries(t *testing.T) {
	root := t.TempDir()
	result := simulate(t, 5)
	if _, err := Persist(root, Metadata{RaceID: "listed"}, result, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	headers, err := ListHeaders(root)
	if err != nil {
		t.Fatalf("list headers: %v", err)
	}
	if len(headers) != 1 || headers[0].RaceID != "listed" {
		t.Fatalf("unexpected headers %+v", headers)
	}
}
