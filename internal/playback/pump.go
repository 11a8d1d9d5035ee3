package playback

import (
	"context"
	"time"
)

// FrameFunc receives the playback clock after each fixed step. Returning false stops the pump.
type FrameFunc func(elapsed time.Duration) bool

// Pump drives a FrameFunc at a fixed rate, scaling wall-clock time by a speed factor.
type Pump struct {
	step    time.Duration
	speed   float64
	onFrame FrameFunc
	stop    chan struct{}
	done    chan struct{}
}

// NewPump configures a pump that targets the provided frames per second.
func NewPump(targetHz, speed float64, onFrame FrameFunc) *Pump {
	if targetHz <= 0 {
		targetHz = 30
	}
	if speed <= 0 {
		speed = 1
	}
	if onFrame == nil {
		onFrame = func(time.Duration) bool { return true }
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 30
	}
	return &Pump{step: interval, speed: speed, onFrame: onFrame}
}

// Run ticks until the context is cancelled, Stop is called or the callback returns false.
func (p *Pump) Run(ctx context.Context) error {
	if p == nil {
		return nil
	}
	ticker := time.NewTicker(p.step)
	defer ticker.Stop()
	last := time.Now()
	accumulator := time.Duration(0)
	elapsed := time.Duration(0)
	advance := time.Duration(float64(p.step) * p.speed)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopped():
			return nil
		case now := <-ticker.C:
			//1.- Accumulate wall time and run fixed steps while catching up.
			accumulator += now.Sub(last)
			last = now
			for accumulator >= p.step {
				accumulator -= p.step
				elapsed += advance
				if !p.onFrame(elapsed) {
					return nil
				}
			}
		}
	}
}

// Start runs the pump on its own goroutine.
func (p *Pump) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		_ = p.Run(ctx)
	}()
}

// Stop halts a started pump and waits for its goroutine to exit.
func (p *Pump) Stop() {
	if p == nil || p.done == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.done = nil
}

// StepDuration exposes the configured wall-clock step.
func (p *Pump) StepDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.step
}

func (p *Pump) stopped() <-chan struct{} {
	// nil channel blocks forever when the pump runs synchronously
	return p.stop
}
