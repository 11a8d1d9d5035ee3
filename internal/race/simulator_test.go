package race

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
)

func roster(n int) []Participant {
	out := make([]Participant, n)
	for i := range out {
		out[i] = Participant{ID: fmt.Sprintf("duck-%d", i+1), Name: fmt.Sprintf("Duck %d", i+1)}
	}
	return out
}

func TestSingleParticipantFinishes(t *testing.T) {
	result, err := Simulate(roster(1), WithSeed(1))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(result.Standings) != 1 {
		t.Fatalf("expected 1 standing, got %d", len(result.Standings))
	}
	only := result.Standings[0]
	if !only.Finished || only.Position != 1 {
		t.Fatalf("expected finished winner, got %+v", only)
	}
	if only.FinishTime == nil || *only.FinishTime > float64(result.Duration) {
		t.Fatalf("finish time %v outside duration %d", only.FinishTime, result.Duration)
	}
}

func TestNoSkillsKeepsStartOrder(t *testing.T) {
	cfg := DefaultConfig().WithoutSkills()
	result, err := Simulate(roster(5), WithConfig(cfg), WithSeed(7))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	stepTravel := float64(cfg.TimeStepMs)
	first := *result.Standings[0].FinishTime
	for i, standing := range result.Standings {
		if want := fmt.Sprintf("duck-%d", i+1); standing.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i+1, want, standing.ID)
		}
		if !standing.Finished {
			t.Fatalf("%s did not finish", standing.ID)
		}
		if delta := *standing.FinishTime - first; delta < 0 || delta > stepTravel {
			t.Fatalf("%s finish time spread %.3f exceeds one step", standing.ID, delta)
		}
	}
	for _, event := range result.Events {
		if event.Kind() != KindFinish {
			t.Fatalf("unexpected skill event %s with skills disabled", event.Kind())
		}
	}
}

func TestSimulationIsDeterministicForSeed(t *testing.T) {
	encode := func() []byte {
		result, err := Simulate(roster(8), WithSeed(42))
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		payload, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return payload
	}
	if a, b := encode(), encode(); !bytes.Equal(a, b) {
		t.Fatalf("identical seeds produced different results")
	}
}

func TestResultInvariantsAcrossSeeds(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		result, err := Simulate(roster(6), WithSeed(seed))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		cfg := result.Config

		if result.Duration > cfg.MaxDurationMs {
			t.Fatalf("seed %d: duration %d beyond ceiling", seed, result.Duration)
		}
		ranks := make(map[int]bool)
		for _, standing := range result.Standings {
			if ranks[standing.Position] || standing.Position < 1 || standing.Position > 6 {
				t.Fatalf("seed %d: bad rank %d", seed, standing.Position)
			}
			ranks[standing.Position] = true
			if standing.Finished {
				if standing.MetersTraveled < cfg.Distance {
					t.Fatalf("seed %d: %s finished short of the line", seed, standing.ID)
				}
				if *standing.FinishTime > float64(result.Duration) {
					t.Fatalf("seed %d: %s finish %.2f after duration %d", seed, standing.ID, *standing.FinishTime, result.Duration)
				}
			}
		}

		last := make(map[string]float64)
		var prevTime int64 = -1
		for _, snap := range result.ProgressSnapshots {
			if snap.TimeMs <= prevTime {
				t.Fatalf("seed %d: snapshot times not increasing", seed)
			}
			prevTime = snap.TimeMs
			for _, entry := range snap.Positions {
				if entry.MetersTraveled < last[entry.ID] {
					t.Fatalf("seed %d: %s went backwards at %d", seed, entry.ID, snap.TimeMs)
				}
				last[entry.ID] = entry.MetersTraveled
			}
		}

		var prevEvent int64
		for _, event := range result.Events {
			if event.Header().TimeMs < prevEvent {
				t.Fatalf("seed %d: events out of order", seed)
			}
			prevEvent = event.Header().TimeMs
		}
	}
}

func TestSlotsHoldOneEffectPerPolarity(t *testing.T) {
	r := newRacer(0, Participant{ID: "a"}, DefaultConfig(), NewSource(1))
	r.applyBuff(BuffBoost, 3, 0)
	r.applyBuff(BuffImmune, 4, 0)
	if r.buff.active(BuffBoost) || !r.immune() {
		t.Fatalf("immune should replace boost, got %+v", r.buff)
	}
	r.applyDebuff(DebuffSplash, 2, 0.2)
	r.applyDebuff(DebuffStun, 1, 0)
	if r.debuff.active(DebuffSplash) || !r.stunned() {
		t.Fatalf("stun should replace splash, got %+v", r.debuff)
	}
	r.tick(1, DefaultConfig())
	if r.stunned() {
		t.Fatalf("stun should expire after its duration")
	}
}

func TestLastPlaceSkillsOnlyCastFromLast(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		cfg := DefaultConfig()
		r := newRun(cfg, NewSource(seed), roster(6))
		for !r.done() {
			positions := make(map[string]int)
			unfinished := 0
			for _, racer := range r.racers {
				if !racer.finished {
					positions[racer.ID] = racer.position
					unfinished++
				}
			}
			before := len(r.events)
			r.step()
			for _, event := range r.events[before:] {
				if event.Kind() != string(SkillLightning) && event.Kind() != string(SkillMagnet) {
					continue
				}
				actor := event.Header().ActorID
				if positions[actor] != unfinished {
					t.Fatalf("seed %d: %s cast %s from position %d of %d", seed, actor, event.Kind(), positions[actor], unfinished)
				}
			}
		}
	}
}

func TestBombTargetsNearestRacerAhead(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		r := newRun(DefaultConfig(), NewSource(seed), roster(6))
		dt := float64(r.cfg.TimeStepMs) / 1000
		for !r.done() {
			meters := make(map[string]float64)
			eligible := make(map[string]bool)
			for _, racer := range r.racers {
				meters[racer.ID] = racer.meters
				// immunity that runs out during this step's tick no longer protects
				stillImmune := racer.buff.kind == BuffImmune && floorZero(racer.buff.remaining-dt) > 0
				eligible[racer.ID] = !racer.finished && !stillImmune
			}
			before := len(r.events)
			r.step()
			for _, event := range r.events[before:] {
				bomb, ok := event.(BombEvent)
				if !ok {
					continue
				}
				want := ""
				for _, racer := range r.racers {
					id := racer.ID
					if id == bomb.ActorID || !eligible[id] || meters[id] <= meters[bomb.ActorID] {
						continue
					}
					if want == "" || meters[id] < meters[want] {
						want = id
					}
				}
				if bomb.TargetID != want {
					t.Fatalf("seed %d: bomb from %s hit %q, nearest ahead was %q", seed, bomb.ActorID, bomb.TargetID, want)
				}
			}
		}
	}
}

func TestPermanentlyStunnedRacerNeverFinishes(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(3), roster(4))
	stuck := r.racers[2]
	for !r.done() {
		stuck.applyDebuff(DebuffStun, 1e6, 0)
		r.step()
	}
	result := r.result()
	if result.Duration != DefaultMaxDurationMs {
		t.Fatalf("expected ceiling duration, got %d", result.Duration)
	}
	if !result.TimedOut {
		t.Fatalf("expected timed out result")
	}
	seenStuck := false
	for _, standing := range result.Standings {
		if standing.ID == stuck.ID {
			if standing.Finished {
				t.Fatalf("stunned racer must not finish")
			}
			seenStuck = true
			continue
		}
		if seenStuck && standing.Finished {
			t.Fatalf("finished racer %s ranked below the stunned racer", standing.ID)
		}
	}
}

func TestFinishTimeIsInterpolatedInsideStep(t *testing.T) {
	cfg := DefaultConfig().WithoutSkills()
	cfg.Distance = 1005
	result, err := Simulate(roster(1), WithConfig(cfg), WithSeed(1))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	got := *result.Standings[0].FinishTime
	if got < 10049 || got > 10051 {
		t.Fatalf("expected finish near 10050ms, got %.3f", got)
	}
	if result.Duration != 10100 {
		t.Fatalf("expected race to end on the step boundary, got %d", result.Duration)
	}
}

func TestMagnetFizzlesWithoutRacerAhead(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(2))
	r.racers[0].meters = 500
	r.racers[1].meters = 500
	r.racers[0].applyBuff(BuffImmune, 2, 0)
	r.rank()
	event := r.cast(SkillMagnet, r.racers[0], freeze(r.racers))
	magnet := event.(MagnetEvent)
	if !Fizzled(magnet) || magnet.BoostPercent != 0 || magnet.DurationMs != 0 {
		t.Fatalf("expected zero payload fizzle, got %+v", magnet)
	}
	if !r.racers[0].immune() {
		t.Fatalf("fizzled magnet must leave the buff slot untouched")
	}
}

func TestMagnetBoostScalesWithGap(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(3))
	r.racers[0].meters = 1000
	r.racers[1].meters = 1200
	r.racers[2].meters = 800
	r.rank()
	magnet := r.cast(SkillMagnet, r.racers[2], freeze(r.racers)).(MagnetEvent)
	if magnet.TargetID != "duck-2" {
		t.Fatalf("expected leader duck-2, got %s", magnet.TargetID)
	}
	if magnet.BoostPercent != 0.8 {
		t.Fatalf("expected saturated boost, got %.3f", magnet.BoostPercent)
	}
	half := r.cast(SkillMagnet, r.racers[0], freeze(r.racers)).(MagnetEvent)
	if half.BoostPercent < 0.39 || half.BoostPercent > 0.41 {
		t.Fatalf("expected half boost for 200m gap, got %.3f", half.BoostPercent)
	}
}

func TestSplashSkipsImmuneAndDistantRacers(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(4))
	r.racers[0].meters = 1000
	r.racers[1].meters = 1150
	r.racers[2].meters = 900
	r.racers[2].applyBuff(BuffImmune, 3, 0)
	r.racers[3].meters = 1300
	splash := r.cast(SkillSplash, r.racers[0], freeze(r.racers)).(SplashEvent)
	if splash.AffectedCount != 1 || splash.AffectedIDs[0] != "duck-2" {
		t.Fatalf("expected only duck-2 splashed, got %+v", splash)
	}
	if !r.racers[1].debuff.active(DebuffSplash) {
		t.Fatalf("expected splash debuff on duck-2")
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		input []Participant
		want  error
	}{
		{name: "empty", input: nil, want: ErrNoParticipants},
		{name: "blank id", input: []Participant{{ID: " "}}, want: ErrInvalidParticipant},
		{name: "duplicate", input: []Participant{{ID: "a"}, {ID: "a"}}, want: ErrDuplicateParticipant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Simulate(tc.input, WithSeed(1)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	bad := DefaultConfig()
	bad.TimeStepMs = 0
	if _, err := Simulate(roster(2), WithConfig(bad)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestDefaultNamesFollowRosterIndex(t *testing.T) {
	result, err := Simulate([]Participant{{ID: "x"}, {ID: "y", Name: "Quackers"}}, WithSeed(2))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	names := map[string]string{}
	for _, standing := range result.Standings {
		names[standing.ID] = standing.Name
	}
	if names["x"] != "Duck 1" || names["y"] != "Quackers" {
		t.Fatalf("unexpected names %v", names)
	}
}

func onlySkill(kind SkillKind) Config {
	cfg := DefaultConfig()
	cfg.Skills.Disabled = nil
	for _, other := range AllSkills() {
		if other != kind {
			cfg.Skills.Disabled = append(cfg.Skills.Disabled, other)
		}
	}
	return cfg
}

func TestBoostCastMovesAtPreStepSpeed(t *testing.T) {
	cfg := onlySkill(SkillBoost)
	r := newRun(cfg, NewSource(5), roster(1))
	duck := r.racers[0]
	duck.nextAttemptMs = 0
	duck.cooldowns[SkillBoost] = 0
	dt := float64(cfg.TimeStepMs) / 1000

	r.step()
	if len(r.events) != 1 || r.events[0].Kind() != string(SkillBoost) {
		t.Fatalf("expected a boost cast in the first step, got %v", r.events)
	}
	if want := cfg.BaseSpeed * dt; math.Abs(duck.meters-want) > 1e-9 {
		t.Fatalf("cast step moved %.4fm, want %.4fm at base speed", duck.meters, want)
	}

	before := duck.meters
	r.step()
	want := cfg.BaseSpeed * cfg.Skills.Boost.SpeedMultiplier * dt
	if moved := duck.meters - before; math.Abs(moved-want) > 1e-9 {
		t.Fatalf("step after cast moved %.4fm, want %.4fm boosted", moved, want)
	}
}

func TestLightningStunsFieldAndReplacesSplash(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(4))
	r.racers[0].meters = 900
	r.racers[1].meters = 1200
	r.racers[1].applyDebuff(DebuffSplash, 3, 0.2)
	r.racers[2].meters = 1500
	r.racers[2].applyBuff(BuffImmune, 3, 0)
	r.racers[3].meters = r.cfg.Distance
	r.racers[3].finished = true
	r.rank()

	lightning := r.cast(SkillLightning, r.racers[0], freeze(r.racers)).(LightningEvent)
	if lightning.AffectedCount != 1 || lightning.AffectedIDs[0] != "duck-2" {
		t.Fatalf("expected only duck-2 struck, got %+v", lightning)
	}
	if lightning.DurationMs != 1500 {
		t.Fatalf("expected fixed 1500ms stun, got %d", lightning.DurationMs)
	}
	struck := r.racers[1]
	if !struck.stunned() || struck.debuff.active(DebuffSplash) || struck.debuff.remaining != 1.5 {
		t.Fatalf("stun should replace splash for 1.5s, got %+v", struck.debuff)
	}
	if r.racers[0].stunned() || r.racers[2].stunned() || r.racers[3].debuff.kind != DebuffNone {
		t.Fatalf("caster, immune and finished racers must be spared")
	}
}

func TestAttemptRetriesWhenNothingIsEligible(t *testing.T) {
	r := newRun(DefaultConfig().WithoutSkills(), NewSource(1), roster(2))
	duck := r.racers[0]
	duck.nextAttemptMs = 0
	r.now = 100

	r.attempt(duck, freeze(r.racers))
	if len(r.events) != 0 {
		t.Fatalf("expected no cast, got %v", r.events)
	}
	if duck.nextAttemptMs != 1100 {
		t.Fatalf("expected retry at 1100ms, got %.1f", duck.nextAttemptMs)
	}
}

func TestAttemptWaitsIntervalAfterCast(t *testing.T) {
	cfg := onlySkill(SkillBoost)
	cfg.Attempts.Interval = Fixed(6)
	r := newRun(cfg, NewSource(1), roster(2))
	duck := r.racers[0]
	duck.nextAttemptMs = 0
	duck.cooldowns[SkillBoost] = 0
	r.now = 100

	r.attempt(duck, freeze(r.racers))
	if len(r.events) != 1 {
		t.Fatalf("expected one cast, got %d", len(r.events))
	}
	if duck.nextAttemptMs != 6100 {
		t.Fatalf("expected next attempt at 6100ms, got %.1f", duck.nextAttemptMs)
	}
	if duck.cooldowns[SkillBoost] < cfg.Skills.Boost.Cooldown.Min {
		t.Fatalf("expected boost cooldown restarted, got %.2f", duck.cooldowns[SkillBoost])
	}

	r.now = 200
	r.attempt(duck, freeze(r.racers))
	if len(r.events) != 1 {
		t.Fatalf("attempt before the interval elapsed must not cast")
	}
}

func TestStunnedRacerSkipsAttempt(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(2))
	duck := r.racers[1]
	duck.nextAttemptMs = 0
	for kind := range duck.cooldowns {
		duck.cooldowns[kind] = 0
	}
	duck.applyDebuff(DebuffStun, 2, 0)
	r.now = 100

	r.attempt(duck, freeze(r.racers))
	if len(r.events) != 0 || duck.nextAttemptMs != 0 {
		t.Fatalf("stunned racer attempted: events=%v next=%.1f", r.events, duck.nextAttemptMs)
	}
}

func TestSelfBuffCastsReplaceEachOther(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(2))
	duck := r.racers[0]
	duck.applyBuff(BuffImmune, 4, 0)

	r.cast(SkillBoost, duck, freeze(r.racers))
	if duck.immune() || !duck.buff.active(BuffBoost) {
		t.Fatalf("boost should clear immunity, got %+v", duck.buff)
	}
	r.cast(SkillImmune, duck, freeze(r.racers))
	if duck.buff.active(BuffBoost) || !duck.immune() {
		t.Fatalf("immune should clear boost, got %+v", duck.buff)
	}
}

func TestBombFizzlesWithoutVulnerableRacerAhead(t *testing.T) {
	r := newRun(DefaultConfig(), NewSource(1), roster(3))
	r.racers[0].meters = 1500
	r.racers[1].meters = 1200
	r.racers[2].meters = 1600
	r.racers[2].applyBuff(BuffImmune, 3, 0)
	r.rank()

	bomb := r.cast(SkillBomb, r.racers[0], freeze(r.racers)).(BombEvent)
	if !Fizzled(bomb) || bomb.DurationMs != 0 {
		t.Fatalf("expected zero payload fizzle, got %+v", bomb)
	}
	for _, racer := range r.racers {
		if racer.debuff.kind != DebuffNone {
			t.Fatalf("%s picked up a debuff from a fizzled bomb", racer.ID)
		}
	}
	if !r.racers[2].immune() {
		t.Fatalf("fizzled bomb must leave immunity untouched")
	}
}
