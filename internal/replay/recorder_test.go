package replay

import (
	"strings"
	"testing"
	"time"
)

func TestRecorderRollsAndLoaderReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	recorder, err := NewRecorder(dir, 0, func() time.Time { return current })
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	recorder.RecordRace("r1", 39000, []byte(`{"raceId":"r1"}`))
	current = current.Add(time.Second)
	recorder.RecordRace("r2", 41000, []byte(`{"raceId":"r2"}`))
	recorder.RecordRace("r3", 38000, []byte(`{"raceId":"r3"}`))

	stats := recorder.Snapshot()
	if stats.BufferedFrames != 3 || stats.BufferedBytes == 0 {
		t.Fatalf("unexpected stats before roll %+v", stats)
	}

	path, err := recorder.Roll("admin dump")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if !strings.HasSuffix(path, "admindump-20250402T080001Z.json.gz") {
		t.Fatalf("unexpected dump path %q", path)
	}
	if stats := recorder.Snapshot(); stats.BufferedFrames != 0 || stats.Dumps != 1 || stats.LastDumpURI != path {
		t.Fatalf("unexpected stats after roll %+v", stats)
	}
	if _, err := recorder.Roll("again"); err == nil {
		t.Fatal("expected empty roll to fail")
	}

	loader, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loader.Label() != "admindump" {
		t.Fatalf("unexpected label %q", loader.Label())
	}
	var order []string
	err = loader.Replay(func(entry TimelineEntry) error {
		order = append(order, entry.RaceID)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if strings.Join(order, ",") != "r1,r2,r3" {
		t.Fatalf("unexpected replay order %v", order)
	}
	if entries := loader.Entries(); string(entries[1].Payload) != `{"raceId":"r2"}` || entries[1].SimulatedMs != 41000 {
		t.Fatalf("unexpected entry %+v", entries[1])
	}
}

func TestRecorderDropsOldestBeyondCapacity(t *testing.T) {
	recorder, err := NewRecorder(t.TempDir(), 2, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		recorder.RecordRace(id, 1, []byte(`{}`))
	}
	stats := recorder.Snapshot()
	if stats.BufferedFrames != 2 || stats.Dropped != 1 || stats.BufferedBytes != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
