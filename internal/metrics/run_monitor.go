package metrics

import (
	"sync"
	"time"
)

// RunOutcome summarises one completed simulation for aggregation.
type RunOutcome struct {
	Racers   int
	Events   int
	Fizzles  int
	TimedOut bool
}

// RunStats is a point-in-time copy of the monitor's aggregates.
type RunStats struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration

	Races    int
	Racers   int
	Events   int
	Fizzles  int
	TimedOut int
	Rejected int
}

// RacesPerSecond derives the throughput equivalent of the average simulation time.
func (s RunStats) RacesPerSecond() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// RunMonitor accumulates wall-clock timings and outcome counters for simulated races.
type RunMonitor struct {
	mu       sync.Mutex
	samples  int
	total    time.Duration
	max      time.Duration
	last     time.Duration
	racers   int
	events   int
	fizzles  int
	timedOut int
	rejected int
}

// NewRunMonitor constructs an empty monitor.
func NewRunMonitor() *RunMonitor {
	return &RunMonitor{}
}

// Observe records how long one race took to simulate and what it produced.
func (m *RunMonitor) Observe(elapsed time.Duration, outcome RunOutcome) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	//1.- Timing aggregates; a zero elapsed still counts as a race.
	m.samples++
	if elapsed > 0 {
		m.total += elapsed
	}
	if elapsed > m.max {
		m.max = elapsed
	}
	m.last = elapsed
	//2.- Outcome counters.
	m.racers += outcome.Racers
	m.events += outcome.Events
	m.fizzles += outcome.Fizzles
	if outcome.TimedOut {
		m.timedOut++
	}
}

// Reject counts a request refused before simulation.
func (m *RunMonitor) Reject() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *RunMonitor) Snapshot() RunStats {
	if m == nil {
		return RunStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := RunStats{
		Samples:  m.samples,
		Max:      m.max,
		Last:     m.last,
		Races:    m.samples,
		Racers:   m.racers,
		Events:   m.events,
		Fizzles:  m.fizzles,
		TimedOut: m.timedOut,
		Rejected: m.rejected,
	}
	if m.samples > 0 {
		stats.Average = m.total / time.Duration(m.samples)
	}
	return stats
}

// Reset clears every counter.
func (m *RunMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last = 0, 0, 0, 0
	m.racers, m.events, m.fizzles, m.timedOut, m.rejected = 0, 0, 0, 0, 0
	m.mu.Unlock()
}
