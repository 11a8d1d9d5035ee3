package race

import "math"

// standing is the frozen, start-of-step picture of one racer that skill resolution reads.
type standing struct {
	meters   float64
	finished bool
	immune   bool
	stunned  bool
	position int
}

// view freezes the roster so casts earlier in the roster cannot change what later casters see.
type view struct {
	racers     []standing
	unfinished int
}

func freeze(racers []*racer) view {
	v := view{racers: make([]standing, len(racers))}
	for i, r := range racers {
		v.racers[i] = standing{
			meters:   r.meters,
			finished: r.finished,
			immune:   r.immune(),
			stunned:  r.stunned(),
			position: r.position,
		}
		if !r.finished {
			v.unfinished++
		}
	}
	return v
}

// last reports whether racer i is strictly last among unfinished racers.
func (v view) last(i int) bool {
	s := v.racers[i]
	return !s.finished && s.position == v.unfinished
}

// vulnerable reports whether racer j can be hit by a debuff cast by racer i.
func (v view) vulnerable(i, j int) bool {
	s := v.racers[j]
	return j != i && !s.finished && !s.immune
}

// nearestAhead returns the vulnerable racer with the smallest distance greater than the caster's.
func (v view) nearestAhead(i int) int {
	target := -1
	for j, s := range v.racers {
		if !v.vulnerable(i, j) || s.meters <= v.racers[i].meters {
			continue
		}
		if target < 0 || s.meters < v.racers[target].meters {
			target = j
		}
	}
	return target
}

// leaderAhead returns the furthest unfinished racer ahead of the caster, immune or not.
func (v view) leaderAhead(i int) int {
	leader := -1
	for j, s := range v.racers {
		if j == i || s.finished || s.meters <= v.racers[i].meters {
			continue
		}
		if leader < 0 || s.meters > v.racers[leader].meters {
			leader = j
		}
	}
	return leader
}

// eligible lists the skills racer r may cast right now, in selection order.
func (s *run) eligible(r *racer, v view) []SkillKind {
	kinds := make([]SkillKind, 0, len(allSkills))
	for _, kind := range allSkills {
		if !s.cfg.Enabled(kind) || r.cooldowns[kind] > 0 {
			continue
		}
		if kind.lastPlaceOnly() && !v.last(r.index) {
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}

// attempt runs one skill attempt for r if its next attempt time has come.
func (s *run) attempt(r *racer, v view) {
	if r.finished || v.racers[r.index].stunned || float64(s.now) < r.nextAttemptMs {
		return
	}
	now := float64(s.now)
	kinds := s.eligible(r, v)
	if len(kinds) == 0 {
		r.nextAttemptMs = now + s.cfg.Attempts.RetryDelay*1000
		return
	}
	kind := kinds[pick(s.src, len(kinds))]
	if event := s.cast(kind, r, v); event != nil {
		s.events = append(s.events, event)
		if Fizzled(event) {
			s.fizzles++
		}
	}
	r.cooldowns[kind] = s.cfg.cooldownFor(kind).Sample(s.src)
	r.nextAttemptMs = now + s.cfg.Attempts.Interval.Sample(s.src)*1000
}

// cast resolves kind for caster r against the frozen view and returns its event.
func (s *run) cast(kind SkillKind, r *racer, v view) Event {
	head := EventHeader{TimeMs: s.now, ActorID: r.ID}
	skills := s.cfg.Skills
	switch kind {
	case SkillBoost:
		d := skills.Boost.Duration.Sample(s.src)
		r.applyBuff(BuffBoost, d, 0)
		return BoostEvent{EventHeader: head, Multiplier: skills.Boost.SpeedMultiplier, DurationMs: millis(d)}

	case SkillImmune:
		d := skills.Immune.Duration.Sample(s.src)
		r.applyBuff(BuffImmune, d, 0)
		return ImmuneEvent{EventHeader: head, DurationMs: millis(d)}

	case SkillBomb:
		target := v.nearestAhead(r.index)
		if target < 0 {
			return BombEvent{EventHeader: head}
		}
		d := skills.Bomb.StunDuration.Sample(s.src)
		hit := s.racers[target]
		hit.applyDebuff(DebuffStun, d, 0)
		return BombEvent{EventHeader: head, TargetID: hit.ID, TargetName: hit.Name, DurationMs: millis(d)}

	case SkillSplash:
		d := skills.Splash.Duration.Sample(s.src)
		affected := make([]string, 0)
		origin := v.racers[r.index].meters
		for j, other := range v.racers {
			if !v.vulnerable(r.index, j) || math.Abs(other.meters-origin) > skills.Splash.Radius {
				continue
			}
			s.racers[j].applyDebuff(DebuffSplash, d, skills.Splash.SpeedReduction)
			affected = append(affected, s.racers[j].ID)
		}
		return SplashEvent{
			EventHeader:    head,
			AffectedIDs:    affected,
			AffectedCount:  len(affected),
			SpeedReduction: skills.Splash.SpeedReduction,
			DurationMs:     millis(d),
		}

	case SkillLightning:
		d := skills.Lightning.StunDuration
		affected := make([]string, 0)
		for j := range v.racers {
			if !v.vulnerable(r.index, j) {
				continue
			}
			s.racers[j].applyDebuff(DebuffStun, d, 0)
			affected = append(affected, s.racers[j].ID)
		}
		return LightningEvent{EventHeader: head, AffectedIDs: affected, AffectedCount: len(affected), DurationMs: millis(d)}

	case SkillMagnet:
		leader := v.leaderAhead(r.index)
		if leader < 0 {
			// nobody ahead: the cast is spent but the buff slot is untouched
			return MagnetEvent{EventHeader: head}
		}
		gap := v.racers[leader].meters - v.racers[r.index].meters
		boost := skills.Magnet.MaxBoost * math.Min(1, gap/skills.Magnet.FullBoostGap)
		d := skills.Magnet.Duration.Sample(s.src)
		r.applyBuff(BuffMagnet, d, boost)
		target := s.racers[leader]
		return MagnetEvent{EventHeader: head, TargetID: target.ID, TargetName: target.Name, BoostPercent: boost, DurationMs: millis(d)}
	}
	return nil
}

// millis converts seconds to whole milliseconds, rounding down.
func millis(seconds float64) int64 {
	return int64(math.Floor(seconds * 1000))
}
