package race

import "fmt"

// Participant is one entrant supplied by the caller.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
}

// BuffKind identifies the occupant of a racer's buff slot.
type BuffKind uint8

const (
	BuffNone BuffKind = iota
	BuffBoost
	BuffImmune
	BuffMagnet
)

// DebuffKind identifies the occupant of a racer's debuff slot.
type DebuffKind uint8

const (
	DebuffNone DebuffKind = iota
	DebuffStun
	DebuffSplash
)

// buffSlot holds at most one positive effect. Applying a new buff replaces the old one.
type buffSlot struct {
	kind      BuffKind
	remaining float64
	// magnet boost fraction, meaningful only for BuffMagnet
	boost float64
}

// debuffSlot holds at most one negative effect.
type debuffSlot struct {
	kind      DebuffKind
	remaining float64
	// splash speed reduction, meaningful only for DebuffSplash
	reduction float64
}

func (s buffSlot) active(kind BuffKind) bool     { return s.kind == kind && s.remaining > 0 }
func (s debuffSlot) active(kind DebuffKind) bool { return s.kind == kind && s.remaining > 0 }

type racer struct {
	index int
	Participant

	meters     float64
	position   int
	finished   bool
	finishTime float64
	baseSpeed  float64
	speed      float64

	buff   buffSlot
	debuff debuffSlot

	cooldowns     map[SkillKind]float64
	nextAttemptMs float64
}

func newRacer(index int, p Participant, cfg Config, src Source) *racer {
	if p.Name == "" {
		p.Name = fmt.Sprintf("Duck %d", index+1)
	}
	r := &racer{
		index:       index,
		Participant: p,
		position:    index + 1,
		baseSpeed:   cfg.BaseSpeed,
		speed:       cfg.BaseSpeed,
		cooldowns:   make(map[SkillKind]float64, len(allSkills)),
	}
	//1.- Cooldowns are drawn in selection order so runs with the same seed line up.
	for _, kind := range allSkills {
		r.cooldowns[kind] = cfg.Attempts.InitialCooldown.Sample(src)
	}
	r.nextAttemptMs = cfg.Attempts.InitialDelay.Sample(src) * 1000
	return r
}

func (r *racer) stunned() bool { return r.debuff.active(DebuffStun) }
func (r *racer) immune() bool  { return r.buff.active(BuffImmune) }

// tick advances every timer by dt seconds and recomputes the current speed.
func (r *racer) tick(dt float64, cfg Config) {
	r.buff.remaining = floorZero(r.buff.remaining - dt)
	r.debuff.remaining = floorZero(r.debuff.remaining - dt)
	if r.buff.remaining == 0 {
		r.buff = buffSlot{}
	}
	if r.debuff.remaining == 0 {
		r.debuff = debuffSlot{}
	}
	for kind, left := range r.cooldowns {
		r.cooldowns[kind] = floorZero(left - dt)
	}
	r.speed = r.currentSpeed(cfg)
}

func (r *racer) currentSpeed(cfg Config) float64 {
	speed := r.baseSpeed
	if r.buff.active(BuffBoost) {
		speed *= cfg.Skills.Boost.SpeedMultiplier
	}
	if r.debuff.active(DebuffSplash) {
		speed *= 1 - r.debuff.reduction
	}
	if r.buff.active(BuffMagnet) {
		speed *= 1 + r.buff.boost
	}
	return speed
}

// applyBuff replaces whatever buff is active.
func (r *racer) applyBuff(kind BuffKind, seconds, boost float64) {
	r.buff = buffSlot{kind: kind, remaining: seconds, boost: boost}
}

// applyDebuff replaces whatever debuff is active.
func (r *racer) applyDebuff(kind DebuffKind, seconds, reduction float64) {
	r.debuff = debuffSlot{kind: kind, remaining: seconds, reduction: reduction}
}

// advance moves the racer through the step ending at nowMs and reports whether it crossed
// the line. The finish time is back-solved inside the step from the pre-move distance and the
// speed fixed at the start of the step.
func (r *racer) advance(nowMs int64, dt float64, distance float64) bool {
	if r.finished || r.stunned() || r.speed <= 0 {
		return false
	}
	prev := r.meters
	r.meters += r.speed * dt
	if r.meters < distance {
		return false
	}
	end := float64(nowMs)
	crossed := end - dt*1000 + (distance-prev)/r.speed*1000
	if crossed > end {
		crossed = end
	}
	r.finished = true
	r.finishTime = crossed
	r.meters = distance
	return true
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
