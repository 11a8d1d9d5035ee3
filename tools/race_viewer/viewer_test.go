package raceviewer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"duckrace/server/internal/playback"
	"duckrace/server/internal/race"
	"duckrace/server/internal/replay"
)

func simulate(t *testing.T) race.Result {
	t.Helper()
	participants := []race.Participant{{ID: "a", Name: "Quackers"}, {ID: "b", Name: "Puddles"}, {ID: "c", Name: "Waddles"}}
	result, err := race.Simulate(participants, race.WithSeed(5))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	return result
}

func rowText(cells []Cell, width, y int) string {
	row := []rune(strings.Repeat(" ", width))
	for _, cell := range cells {
		if cell.Y == y {
			row[cell.X] = cell.Rune
		}
	}
	return strings.TrimRight(string(row), " ")
}

func TestLayoutPlacesDucksByProgress(t *testing.T) {
	frame := playback.Frame{ElapsedMs: 1500, Positions: []playback.Position{
		{ID: "a", Progress: 0},
		{ID: "b", Progress: 1},
	}}
	names := map[string]string{"a": "Quackers", "b": "AVeryLongDuckName"}
	width := 40
	cells := Layout(width, 12, "Pond Cup", frame, names, []string{"one", "two"})

	for _, cell := range cells {
		if cell.X < 0 || cell.X >= width || cell.Y < 0 || cell.Y >= 12 {
			t.Fatalf("cell out of bounds: %+v", cell)
		}
	}
	if got := rowText(cells, width, 0); got != "Pond Cup  1.5s" {
		t.Fatalf("unexpected title row %q", got)
	}
	trackStart := laneLabelWidth + 1
	trackWidth := width - trackStart - 6
	first := []rune(rowText(cells, width, 2))
	if string(first[:8]) != "Quackers" || first[trackStart] != duckRune {
		t.Fatalf("expected duck at lane start, got %q", string(first))
	}
	second := []rune(rowText(cells, width, 3))
	if string(second[:laneLabelWidth]) != "AVeryLongDuc" {
		t.Fatalf("expected truncated label, got %q", string(second))
	}
	if second[trackStart+trackWidth-1] != duckRune || second[trackStart+trackWidth] != finishRune {
		t.Fatalf("expected duck at the finish marker, got %q", string(second))
	}
	if !strings.HasSuffix(string(second), "100%") {
		t.Fatalf("expected percentage suffix, got %q", string(second))
	}
	if got := rowText(cells, width, 6); got != "two" {
		t.Fatalf("expected log below lanes, got %q", got)
	}
}

func TestLayoutHandlesTinyScreens(t *testing.T) {
	frame := playback.Frame{Positions: []playback.Position{{ID: "a", Progress: 0.5}}}
	if cells := Layout(0, 0, "x", frame, nil, nil); cells != nil {
		t.Fatalf("expected no cells for empty screen")
	}
	for _, cell := range Layout(5, 2, "Pond Cup", frame, nil, nil) {
		if cell.X >= 5 || cell.Y >= 2 {
			t.Fatalf("cell out of bounds: %+v", cell)
		}
	}
}

func TestDescribeNamesActors(t *testing.T) {
	names := map[string]string{"a": "Quackers", "b": "Puddles"}
	bomb := race.BombEvent{EventHeader: race.EventHeader{TimeMs: 2500, ActorID: "a"}, TargetID: "b"}
	if got := Describe(bomb, names); got != "   2.5s Quackers bombs Puddles" {
		t.Fatalf("unexpected bomb line %q", got)
	}
	fizzle := race.MagnetEvent{EventHeader: race.EventHeader{TimeMs: 1000, ActorID: "b"}}
	if got := Describe(fizzle, names); !strings.Contains(got, "Puddles's magnet fizzles") {
		t.Fatalf("unexpected magnet line %q", got)
	}
}

func TestLoadAcceptsEveryFormat(t *testing.T) {
	result := simulate(t)
	dir := t.TempDir()

	bare := filepath.Join(dir, "result.json")
	payload, _ := json.Marshal(result)
	if err := os.WriteFile(bare, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	wrapped := filepath.Join(dir, "outcome.json")
	payload, _ = json.Marshal(map[string]any{"title": "Pond Cup", "result": result})
	if err := os.WriteFile(wrapped, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock := func() time.Time { return time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) }
	bundle, err := replay.Persist(filepath.Join(dir, "bundles"), replay.Metadata{RaceID: "r9", Title: "Bundle Cup"}, result, clock)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	for path, title := range map[string]string{bare: "", wrapped: "Pond Cup", bundle: "Bundle Cup"} {
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", path, err)
		}
		if loaded.Title != title || len(loaded.Result.Standings) != len(result.Standings) {
			t.Fatalf("Load(%s) = %q with %d standings", path, loaded.Title, len(loaded.Result.Standings))
		}
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(empty); err == nil {
		t.Fatal("expected error for a file without standings")
	}
}

func TestViewerRunsToCompletionOnSimulationScreen(t *testing.T) {
	screen := tcell.NewSimulationScreen("")
	if err := screen.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer screen.Fini()
	screen.SetSize(60, 12)

	viewer := NewViewer(screen, Race{Title: "Pond Cup", Result: simulate(t)}, 2000, 200)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := viewer.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}
}
