package arena

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"duckrace/server/internal/race"
)

// ParticipantStats aggregates one participant's results across an evaluation.
type ParticipantStats struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"winRate"`
	MeanPosition float64 `json:"meanPosition"`
	FinishRate   float64 `json:"finishRate"`
	MeanFinishMs float64 `json:"meanFinishMs"`
}

// Evaluation summarises a batch of independently seeded races over the same roster.
type Evaluation struct {
	Runs         int                `json:"runs"`
	Seed         int64              `json:"seed"`
	TimedOut     int                `json:"timedOut"`
	Fizzles      int                `json:"fizzles"`
	Elapsed      time.Duration      `json:"elapsed"`
	Participants []ParticipantStats `json:"participants"`
}

// Evaluate simulates runs races in parallel. Run i uses seed+i, so a batch is reproducible
// regardless of the worker count.
func Evaluate(ctx context.Context, participants []race.Participant, cfg race.Config, runs, workers int, seed int64) (Evaluation, error) {
	if runs <= 0 {
		return Evaluation{}, fmt.Errorf("%w: runs must be positive", ErrInvalidRequest)
	}
	if err := race.ValidateParticipants(participants); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := cfg.Validate(); err != nil {
		return Evaluation{}, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	//1.- Each run writes only its own slot, so the results slice needs no lock.
	started := time.Now()
	results := make([]race.Result, runs)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := 0; i < runs; i++ {
		i := i
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := race.Simulate(participants, race.WithConfig(cfg), race.WithSeed(seed+int64(i)))
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Evaluation{}, err
	}

	//2.- Fold the standings in run order.
	type tally struct {
		wins, finished int
		positions      int
		finishMs       float64
	}
	tallies := make(map[string]*tally, len(participants))
	for _, p := range participants {
		tallies[p.ID] = &tally{}
	}
	eval := Evaluation{Runs: runs, Seed: seed}
	for _, result := range results {
		if result.TimedOut {
			eval.TimedOut++
		}
		eval.Fizzles += result.Fizzles
		for _, standing := range result.Standings {
			t := tallies[standing.ID]
			t.positions += standing.Position
			if standing.Position == 1 {
				t.wins++
			}
			if standing.Finished && standing.FinishTime != nil {
				t.finished++
				t.finishMs += *standing.FinishTime
			}
		}
	}
	eval.Participants = make([]ParticipantStats, len(participants))
	for i, p := range participants {
		t := tallies[p.ID]
		stats := ParticipantStats{
			ID:           p.ID,
			Name:         p.Name,
			Wins:         t.wins,
			WinRate:      float64(t.wins) / float64(runs),
			MeanPosition: float64(t.positions) / float64(runs),
			FinishRate:   float64(t.finished) / float64(runs),
		}
		if t.finished > 0 {
			stats.MeanFinishMs = t.finishMs / float64(t.finished)
		}
		eval.Participants[i] = stats
	}
	eval.Elapsed = time.Since(started)
	return eval, nil
}
