// Package racebench measures win rates of a roster under a tuning mode.
package racebench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/gameplay"
	"duckrace/server/internal/race"
)

// Options selects the roster, tuning and batch size of a benchmark.
type Options struct {
	Ducks      int
	RosterPath string
	Mode       string
	TuningPath string
	Runs       int
	Workers    int
	Seed       int64
}

// Roster builds n anonymous participants.
func Roster(n int) []race.Participant {
	participants := make([]race.Participant, n)
	for i := range participants {
		participants[i] = race.Participant{ID: fmt.Sprintf("duck-%d", i+1), Name: fmt.Sprintf("Duck %d", i+1)}
	}
	return participants
}

// LoadRoster reads a JSON array of participants.
func LoadRoster(path string) ([]race.Participant, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var participants []race.Participant
	if err := json.Unmarshal(payload, &participants); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", path, err)
	}
	return participants, nil
}

// Run resolves the options and evaluates the batch.
func Run(ctx context.Context, opts Options) (arena.Evaluation, error) {
	//1.- Roster from file when given, otherwise generated.
	participants := Roster(opts.Ducks)
	if opts.RosterPath != "" {
		loaded, err := LoadRoster(opts.RosterPath)
		if err != nil {
			return arena.Evaluation{}, err
		}
		participants = loaded
	}

	//2.- Mode from the embedded catalog or an operator tuning file.
	catalog := gameplay.Default()
	if opts.TuningPath != "" {
		loaded, err := gameplay.LoadFile(opts.TuningPath)
		if err != nil {
			return arena.Evaluation{}, err
		}
		catalog = loaded
	}
	preset, err := catalog.Preset(opts.Mode)
	if err != nil {
		return arena.Evaluation{}, err
	}
	return arena.Evaluate(ctx, participants, preset.Config, opts.Runs, opts.Workers, opts.Seed)
}

// WriteReport prints the evaluation as an aligned table in roster order.
func WriteReport(w io.Writer, mode string, eval arena.Evaluation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "mode %s: %d runs from seed %d in %s (%d timed out, %d fizzles)\n",
		mode, eval.Runs, eval.Seed, eval.Elapsed.Round(time.Millisecond), eval.TimedOut, eval.Fizzles)
	fmt.Fprintln(tw, "DUCK\tWINS\tWIN%\tMEAN POS\tFINISH%\tMEAN FINISH")
	for _, p := range eval.Participants {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.2f\t%.1f\t%.2fs\n",
			p.Name, p.Wins, p.WinRate*100, p.MeanPosition, p.FinishRate*100, p.MeanFinishMs/1000)
	}
	return tw.Flush()
}
