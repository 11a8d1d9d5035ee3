// Package arena turns race requests into signed, recorded and relayed outcomes.
package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"duckrace/server/internal/gameplay"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/metrics"
	"duckrace/server/internal/race"
	"duckrace/server/internal/relay"
	"duckrace/server/internal/replay"
)

// maxDrawnSeed keeps drawn seeds exactly representable as JSON numbers.
const maxDrawnSeed = 1<<53 - 1

// Outcome is a simulated race plus the metadata needed to trust and find it later.
type Outcome struct {
	RaceID     string      `json:"raceId"`
	Title      string      `json:"title"`
	Mode       string      `json:"mode"`
	Seed       int64       `json:"seed"`
	CreatedAt  time.Time   `json:"createdAt"`
	Result     race.Result `json:"result"`
	Signature  string      `json:"signature,omitempty"`
	ReplayPath string      `json:"-"`
}

// Unsigned returns the outcome with the signature cleared, which is the signed payload.
func (o Outcome) Unsigned() Outcome {
	o.Signature = ""
	return o
}

// Publisher fans outcomes out to spectators.
type Publisher interface {
	Publish(kind string, payload any) (uint64, error)
}

// Recorder keeps finished outcomes for later dumps.
type Recorder interface {
	RecordRace(raceID string, simulatedMs int64, payload []byte)
}

// Signer authenticates outcomes.
type Signer interface {
	Sign(value any) (string, error)
}

// Option customises an Arena.
type Option func(*Arena)

// WithCatalog overrides the embedded preset catalog.
func WithCatalog(catalog *gameplay.Catalog) Option {
	return func(a *Arena) {
		if catalog != nil {
			a.catalog = catalog
		}
	}
}

// WithDefaultMode selects the preset used when a request names none.
func WithDefaultMode(mode string) Option {
	return func(a *Arena) {
		if mode = strings.TrimSpace(mode); mode != "" {
			a.defaultMode = mode
		}
	}
}

// WithMaxParticipants caps the roster size. Zero disables the cap.
func WithMaxParticipants(limit int) Option {
	return func(a *Arena) { a.maxParticipants = limit }
}

// WithMonitor records simulation timings.
func WithMonitor(monitor *metrics.RunMonitor) Option {
	return func(a *Arena) { a.monitor = monitor }
}

// WithPublisher relays every outcome.
func WithPublisher(publisher Publisher) Option {
	return func(a *Arena) { a.publisher = publisher }
}

// WithRecorder buffers every outcome for admin dumps.
func WithRecorder(recorder Recorder) Option {
	return func(a *Arena) { a.recorder = recorder }
}

// WithSigner signs every outcome.
func WithSigner(signer Signer) Option {
	return func(a *Arena) { a.signer = signer }
}

// WithReplayDir persists a replay bundle per race under dir.
func WithReplayDir(dir string) Option {
	return func(a *Arena) { a.replayDir = strings.TrimSpace(dir) }
}

// WithLogger overrides the logger used when the request context carries none.
func WithLogger(logger *logging.Logger) Option {
	return func(a *Arena) {
		if logger != nil {
			a.log = logger
		}
	}
}

// WithClock injects the wall clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Arena) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithSeeds injects the seed source used when a request carries no seed.
func WithSeeds(next func() int64) Option {
	return func(a *Arena) {
		if next != nil {
			a.nextSeed = next
		}
	}
}

// Arena runs races. It is safe for concurrent use when its collaborators are.
type Arena struct {
	catalog         *gameplay.Catalog
	defaultMode     string
	maxParticipants int
	monitor         *metrics.RunMonitor
	publisher       Publisher
	recorder        Recorder
	signer          Signer
	replayDir       string
	log             *logging.Logger
	now             func() time.Time
	nextSeed        func() int64
	newID           func() string
}

// New constructs an arena with the embedded presets and no side effects configured.
func New(opts ...Option) *Arena {
	a := &Arena{
		catalog:     gameplay.Default(),
		defaultMode: "casual",
		log:         logging.L(),
		now:         time.Now,
		nextSeed:    func() int64 { return time.Now().UnixNano() & maxDrawnSeed },
		newID:       func() string { return ksuid.New().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Modes lists the presets requests may name.
func (a *Arena) Modes() []gameplay.Preset { return a.catalog.Presets() }

// Run validates, simulates and distributes one race.
func (a *Arena) Run(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	log := a.log
	if logging.TraceIDFromContext(ctx) != "" {
		log = logging.LoggerFromContext(ctx)
	}

	//1.- Reject malformed requests before touching the simulator.
	if err := req.Validate(a.maxParticipants); err != nil {
		a.monitor.Reject()
		return Outcome{}, err
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = a.defaultMode
	}
	preset, err := a.catalog.Preset(mode)
	if err != nil {
		a.monitor.Reject()
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	seed := a.nextSeed()
	if req.Seed != nil {
		seed = *req.Seed
	}

	//2.- Simulate on a source owned by this race only.
	started := time.Now()
	result, err := race.Simulate(req.Participants, race.WithConfig(preset.Config), race.WithSeed(seed))
	elapsed := time.Since(started)
	if err != nil {
		a.monitor.Reject()
		if errors.Is(err, race.ErrInvalidConfig) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	a.monitor.Observe(elapsed, metrics.RunOutcome{
		Racers:   len(result.Standings),
		Events:   len(result.Events),
		Fizzles:  result.Fizzles,
		TimedOut: result.TimedOut,
	})

	outcome := Outcome{
		RaceID:    a.newID(),
		Title:     strings.TrimSpace(req.Title),
		Mode:      preset.Name,
		Seed:      seed,
		CreatedAt: a.now().UTC(),
		Result:    result,
	}
	if a.signer != nil {
		if outcome.Signature, err = a.signer.Sign(outcome.Unsigned()); err != nil {
			return Outcome{}, fmt.Errorf("sign outcome: %w", err)
		}
	}
	log = log.With(logging.RaceID(outcome.RaceID))

	//3.- Persistence and fan-out are best effort; the caller still gets the outcome.
	if a.replayDir != "" {
		meta := replay.Metadata{RaceID: outcome.RaceID, Title: outcome.Title, Mode: outcome.Mode, Seed: seed, Tuning: preset.Config}
		if path, err := replay.Persist(a.replayDir, meta, result, a.now); err != nil {
			log.Warn("replay persist failed", logging.Error(err))
		} else {
			outcome.ReplayPath = path
		}
	}
	if a.recorder != nil {
		if payload, err := json.Marshal(outcome); err != nil {
			log.Warn("outcome encode failed", logging.Error(err))
		} else {
			a.recorder.RecordRace(outcome.RaceID, result.Duration, payload)
		}
	}
	if a.publisher != nil {
		if _, err := a.publisher.Publish(relay.KindRaceCompleted, outcome); err != nil {
			log.Warn("relay publish failed", logging.Error(err))
		}
	}

	winner, _ := result.Winner()
	log.Info("race simulated",
		logging.Mode(outcome.Mode),
		logging.Seed(seed),
		logging.Int("racers", len(result.Standings)),
		logging.Int("events", len(result.Events)),
		logging.Int64("duration_ms", result.Duration),
		logging.String("winner", winner.ID),
		logging.Bool("timed_out", result.TimedOut),
		logging.Duration("elapsed", elapsed),
	)
	return outcome, nil
}
