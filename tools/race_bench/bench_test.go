package racebench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"duckrace/server/internal/arena"
)

func TestRosterNamesDucks(t *testing.T) {
	roster := Roster(3)
	if len(roster) != 3 || roster[2].ID != "duck-3" || roster[2].Name != "Duck 3" {
		t.Fatalf("unexpected roster %+v", roster)
	}
}

func TestRunIsReproducible(t *testing.T) {
	opts := Options{Ducks: 4, Mode: "casual", Runs: 12, Workers: 3, Seed: 40}
	first, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	opts.Workers = 1
	second, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wins := 0
	for i, p := range first.Participants {
		if p.Wins != second.Participants[i].Wins || p.MeanPosition != second.Participants[i].MeanPosition {
			t.Fatalf("participant %s differs across worker counts", p.ID)
		}
		wins += p.Wins
	}
	if wins != opts.Runs {
		t.Fatalf("expected one winner per run, got %d wins over %d runs", wins, opts.Runs)
	}

	var out bytes.Buffer
	if err := WriteReport(&out, opts.Mode, first); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if !strings.HasPrefix(out.String(), "mode casual: 12 runs from seed 40") || !strings.Contains(out.String(), "Duck 4") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestRunUsesRosterFileAndRejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	if err := os.WriteFile(path, []byte(`[{"id":"a","name":"Ada"},{"id":"b","name":"Bo"}]`), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	eval, err := Run(context.Background(), Options{RosterPath: path, Mode: "classic", Runs: 2, Seed: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(eval.Participants) != 2 || eval.Participants[0].Name != "Ada" {
		t.Fatalf("roster file ignored: %+v", eval.Participants)
	}

	if _, err := Run(context.Background(), Options{Ducks: 2, Mode: "turbo", Runs: 1}); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
	if _, err := Run(context.Background(), Options{Ducks: 2, Mode: "casual", Runs: 0}); !errors.Is(err, arena.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for zero runs, got %v", err)
	}
}
