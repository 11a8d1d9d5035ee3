package arena

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"duckrace/server/internal/auth"
	"duckrace/server/internal/gameplay"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/metrics"
	"duckrace/server/internal/race"
	"duckrace/server/internal/relay"
	"duckrace/server/internal/replay"
)

func participants(n int) []race.Participant {
	names := []string{"Quackers", "Puddles", "Waddles", "Mallard", "Drake", "Feathers"}
	out := make([]race.Participant, n)
	for i := range out {
		out[i] = race.Participant{ID: strings.ToLower(names[i]), Name: names[i]}
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

type capturePublisher struct {
	mu    sync.Mutex
	kinds []string
	raw   [][]byte
}

func (c *capturePublisher) Publish(kind string, payload any) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
	c.raw = append(c.raw, data)
	return uint64(len(c.kinds)), nil
}

func TestRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want string
	}{
		{name: "missing title", req: Request{Participants: participants(2)}, want: "title"},
		{name: "empty roster", req: Request{Title: "Cup"}, want: "at least one participant"},
		{name: "too many", req: Request{Title: "Cup", Participants: participants(4)}, want: "at most 3"},
		{name: "blank name", req: Request{Title: "Cup", Participants: []race.Participant{{ID: "a"}}}, want: "participant 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate(3)
			if !errors.Is(err, ErrInvalidRequest) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in invalid request error, got %v", tc.want, err)
			}
		})
	}
	if err := (Request{Title: "Cup", Participants: participants(3)}).Validate(3); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestRunProducesSignedRecordedRelayedOutcome(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	monitor := metrics.NewRunMonitor()
	publisher := &capturePublisher{}
	recorder, err := replay.NewRecorder(dir, 0, func() time.Time { return now })
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	signer := auth.NewSigner("pond-secret")

	a := New(
		WithMonitor(monitor),
		WithPublisher(publisher),
		WithRecorder(recorder),
		WithSigner(signer),
		WithReplayDir(dir),
		WithLogger(logging.NewTestLogger()),
		WithClock(func() time.Time { return now }),
	)
	outcome, err := a.Run(context.Background(), Request{Title: " Spring Cup ", Seed: int64Ptr(99), Participants: participants(4)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if outcome.RaceID == "" || outcome.Title != "Spring Cup" || outcome.Mode != "casual" || outcome.Seed != 99 {
		t.Fatalf("unexpected outcome metadata %+v", outcome)
	}
	if err := signer.Verify(outcome.Unsigned(), outcome.Signature); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}

	direct, err := race.Simulate(participants(4), race.WithSeed(99))
	if err != nil {
		t.Fatalf("direct simulate: %v", err)
	}
	want, _ := json.Marshal(direct)
	got, _ := json.Marshal(outcome.Result)
	if string(want) != string(got) {
		t.Fatal("arena result differs from a direct simulation with the same seed")
	}

	if stats := monitor.Snapshot(); stats.Races != 1 || stats.Racers != 4 {
		t.Fatalf("unexpected monitor stats %+v", stats)
	}
	if stats := recorder.Snapshot(); stats.BufferedFrames != 1 {
		t.Fatalf("expected one recorded outcome, got %+v", stats)
	}
	if len(publisher.kinds) != 1 || publisher.kinds[0] != relay.KindRaceCompleted {
		t.Fatalf("unexpected relay publications %v", publisher.kinds)
	}
	if outcome.ReplayPath == "" {
		t.Fatal("expected replay bundle path")
	}
	if _, err := os.Stat(outcome.ReplayPath); err != nil {
		t.Fatalf("replay bundle missing: %v", err)
	}
	bundle, err := replay.OpenBundle(outcome.ReplayPath)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	if bundle.Header.RaceID != outcome.RaceID || bundle.Header.Mode != "casual" {
		t.Fatalf("unexpected bundle header %+v", bundle.Header)
	}
}

func TestRunDrawsSeedWhenAbsent(t *testing.T) {
	a := New(WithSeeds(func() int64 { return 1234 }), WithLogger(logging.NewTestLogger()))
	outcome, err := a.Run(context.Background(), Request{Title: "Cup", Participants: participants(2)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Seed != 1234 {
		t.Fatalf("expected drawn seed, got %d", outcome.Seed)
	}
}

func TestRunRejectsUnknownModeAndCountsIt(t *testing.T) {
	monitor := metrics.NewRunMonitor()
	a := New(WithMonitor(monitor), WithLogger(logging.NewTestLogger()))
	_, err := a.Run(context.Background(), Request{Title: "Cup", Mode: "lava", Participants: participants(2)})
	if !errors.Is(err, ErrInvalidRequest) || !errors.Is(err, gameplay.ErrUnknownMode) {
		t.Fatalf("expected unknown mode rejection, got %v", err)
	}
	_, err = a.Run(context.Background(), Request{Title: "Cup", Participants: []race.Participant{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}}})
	if !errors.Is(err, ErrInvalidRequest) || !errors.Is(err, race.ErrDuplicateParticipant) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if stats := monitor.Snapshot(); stats.Rejected != 2 || stats.Races != 0 {
		t.Fatalf("unexpected monitor stats %+v", stats)
	}
}

func TestRunHonoursClassicMode(t *testing.T) {
	a := New(WithLogger(logging.NewTestLogger()))
	outcome, err := a.Run(context.Background(), Request{Title: "Cup", Mode: "Classic", Seed: int64Ptr(3), Participants: participants(3)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, event := range outcome.Result.Events {
		if event.Kind() != race.KindFinish {
			t.Fatalf("classic mode cast %s", event.Kind())
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Run(ctx, Request{Title: "Cup", Participants: participants(2)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestEvaluateIsIndependentOfWorkerCount(t *testing.T) {
	roster := participants(5)
	cfg := race.DefaultConfig()
	serial, err := Evaluate(context.Background(), roster, cfg, 24, 1, 500)
	if err != nil {
		t.Fatalf("serial evaluate: %v", err)
	}
	parallel, err := Evaluate(context.Background(), roster, cfg, 24, 6, 500)
	if err != nil {
		t.Fatalf("parallel evaluate: %v", err)
	}
	totalWins := 0
	for i := range serial.Participants {
		a, b := serial.Participants[i], parallel.Participants[i]
		if a.Wins != b.Wins || a.MeanPosition != b.MeanPosition || a.MeanFinishMs != b.MeanFinishMs {
			t.Fatalf("participant %s differs: %+v vs %+v", a.ID, a, b)
		}
		totalWins += a.Wins
	}
	if totalWins != 24 {
		t.Fatalf("expected one winner per run, got %d", totalWins)
	}
	var rateSum float64
	for _, p := range serial.Participants {
		rateSum += p.WinRate
	}
	if math.Abs(rateSum-1) > 1e-9 {
		t.Fatalf("win rates should sum to one, got %v", rateSum)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	if _, err := Evaluate(context.Background(), participants(2), race.DefaultConfig(), 0, 1, 1); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid runs error, got %v", err)
	}
	if _, err := Evaluate(context.Background(), nil, race.DefaultConfig(), 1, 1, 1); !errors.Is(err, race.ErrNoParticipants) {
		t.Fatalf("expected no participants error, got %v", err)
	}
}
