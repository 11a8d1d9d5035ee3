package race

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoParticipants is returned when a race is requested with an empty roster.
	ErrNoParticipants = errors.New("race requires at least one participant")
	// ErrInvalidParticipant is returned when a participant lacks an identifier.
	ErrInvalidParticipant = errors.New("invalid participant")
	// ErrDuplicateParticipant is returned when two participants share an identifier.
	ErrDuplicateParticipant = errors.New("duplicate participant id")
)

// SnapshotEntry is one racer's distance inside a snapshot.
type SnapshotEntry struct {
	ID             string  `json:"id"`
	MetersTraveled float64 `json:"metersTraveled"`
}

// Snapshot records every racer's distance at a point in simulated time.
type Snapshot struct {
	TimeMs    int64           `json:"timeMs"`
	Positions []SnapshotEntry `json:"positions"`
}

// Standing is one row of the final ranking.
type Standing struct {
	Position       int      `json:"position"`
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Avatar         string   `json:"avatar,omitempty"`
	Color          string   `json:"color,omitempty"`
	MetersTraveled float64  `json:"metersTraveled"`
	Finished       bool     `json:"finished"`
	FinishTime     *float64 `json:"finishTime"`
}

// Result is the complete, precomputed outcome of one race.
type Result struct {
	Standings         []Standing `json:"standings"`
	Events            []Event    `json:"events"`
	ProgressSnapshots []Snapshot `json:"progressSnapshots"`
	Duration          int64      `json:"duration"`
	Config            Config     `json:"config"`
	Fizzles           int        `json:"fizzles"`
	TimedOut          bool       `json:"timedOut"`
}

// UnmarshalJSON restores the concrete event types of the log.
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	var raw struct {
		plain
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Result(raw.plain)
	r.Events = make([]Event, 0, len(raw.Events))
	for i, item := range raw.Events {
		event, err := DecodeEvent(item)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		r.Events = append(r.Events, event)
	}
	return nil
}

// Winner returns the first ranked standing.
func (r Result) Winner() (Standing, bool) {
	if len(r.Standings) == 0 {
		return Standing{}, false
	}
	return r.Standings[0], true
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithConfig overrides the race tuning.
func WithConfig(cfg Config) Option {
	return func(s *Simulator) {
		s.cfg = cfg.clone()
	}
}

// WithSource injects the random source used for every draw.
func WithSource(src Source) Option {
	return func(s *Simulator) {
		if src != nil {
			s.src = src
		}
	}
}

// WithSeed seeds a fresh source.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.src = NewSource(seed)
	}
}

// Simulator computes race outcomes. It owns one random source and must not run concurrently;
// parallel work creates one simulator per race.
type Simulator struct {
	cfg Config
	src Source
}

// New constructs a simulator with the default config and a time-seeded source unless overridden.
func New(opts ...Option) *Simulator {
	s := &Simulator{cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.src == nil {
		s.src = NewSource(time.Now().UnixNano())
	}
	return s
}

// Config returns the tuning the simulator runs with.
func (s *Simulator) Config() Config { return s.cfg.clone() }

// Run validates the roster and simulates one full race.
func (s *Simulator) Run(participants []Participant) (Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return Result{}, err
	}
	if err := ValidateParticipants(participants); err != nil {
		return Result{}, err
	}
	r := newRun(s.cfg, s.src, participants)
	for !r.done() {
		r.step()
	}
	return r.result(), nil
}

// Simulate is shorthand for New(opts...).Run(participants).
func Simulate(participants []Participant, opts ...Option) (Result, error) {
	return New(opts...).Run(participants)
}

// ValidateParticipants rejects empty rosters, blank identifiers and duplicates.
func ValidateParticipants(participants []Participant) error {
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	seen := make(map[string]int, len(participants))
	for i, p := range participants {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: participant %d has no id", ErrInvalidParticipant, i+1)
		}
		if first, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: %q at %d and %d", ErrDuplicateParticipant, p.ID, first+1, i+1)
		}
		seen[p.ID] = i
	}
	return nil
}

// run is the mutable state of one race in flight.
type run struct {
	cfg          Config
	src          Source
	racers       []*racer
	events       []Event
	snapshots    []Snapshot
	now          int64
	lastSnapshot int64
	fizzles      int
}

func newRun(cfg Config, src Source, participants []Participant) *run {
	r := &run{cfg: cfg, src: src, racers: make([]*racer, len(participants))}
	for i, p := range participants {
		r.racers[i] = newRacer(i, p, cfg, src)
	}
	r.snapshot()
	return r
}

func (s *run) done() bool {
	if s.now >= s.cfg.MaxDurationMs {
		return true
	}
	for _, r := range s.racers {
		if !r.finished {
			return false
		}
	}
	return true
}

// step advances the race by one fixed increment.
func (s *run) step() {
	s.now += s.cfg.TimeStepMs
	dt := float64(s.cfg.TimeStepMs) / 1000

	//1.- Timers and speeds.
	for _, r := range s.racers {
		if !r.finished {
			r.tick(dt, s.cfg)
		}
	}

	//2.- Skill attempts in roster order, all reading the same frozen view.
	v := freeze(s.racers)
	for _, r := range s.racers {
		s.attempt(r, v)
	}

	//3.- Movement at the speed fixed in tick. A stun landed this step still holds the racer.
	for _, r := range s.racers {
		if r.finished {
			continue
		}
		if r.advance(s.now, dt, s.cfg.Distance) {
			s.events = append(s.events, FinishEvent{
				EventHeader: EventHeader{TimeMs: s.now, ActorID: r.ID},
				FinishTime:  r.finishTime,
			})
		}
	}

	//4.- Ranks and the periodic snapshot.
	s.rank()
	if s.now-s.lastSnapshot >= s.cfg.SnapshotIntervalMs {
		s.snapshot()
	}
}

// rank assigns 1-based positions to unfinished racers; ties keep roster order.
func (s *run) rank() {
	active := make([]*racer, 0, len(s.racers))
	for _, r := range s.racers {
		if !r.finished {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].meters > active[j].meters
	})
	for i, r := range active {
		r.position = i + 1
	}
}

func (s *run) snapshot() {
	entries := make([]SnapshotEntry, len(s.racers))
	for i, r := range s.racers {
		entries[i] = SnapshotEntry{ID: r.ID, MetersTraveled: math.Round(r.meters*10) / 10}
	}
	s.snapshots = append(s.snapshots, Snapshot{TimeMs: s.now, Positions: entries})
	s.lastSnapshot = s.now
}

// result assembles the final ranking and hands the logs off.
func (s *run) result() Result {
	if s.lastSnapshot != s.now {
		s.snapshot()
	}
	ordered := append([]*racer(nil), s.racers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.finished && b.finished:
			return a.finishTime < b.finishTime
		case a.finished != b.finished:
			return a.finished
		default:
			return a.meters > b.meters
		}
	})
	standings := make([]Standing, len(ordered))
	timedOut := false
	for i, r := range ordered {
		standings[i] = Standing{
			Position:       i + 1,
			ID:             r.ID,
			Name:           r.Name,
			Avatar:         r.Avatar,
			Color:          r.Color,
			MetersTraveled: r.meters,
			Finished:       r.finished,
		}
		if r.finished {
			finish := r.finishTime
			standings[i].FinishTime = &finish
		} else {
			timedOut = true
		}
	}
	return Result{
		Standings:         standings,
		Events:            s.events,
		ProgressSnapshots: s.snapshots,
		Duration:          s.now,
		Config:            s.cfg.clone(),
		Fizzles:           s.fizzles,
		TimedOut:          timedOut,
	}
}
