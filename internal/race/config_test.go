package race

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Distance = 0
	cfg.Skills.Splash.SpeedReduction = 1.5
	cfg.Skills.Bomb.StunDuration = Range{Min: 3, Max: 1}
	cfg.Skills.Disabled = []SkillKind{"teleport"}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, fragment := range []string{"distance", "splash.speedReduction", "bomb.stunDuration", "teleport"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %v", fragment, err)
		}
	}
}

func TestWithoutSkillsDisablesEveryKind(t *testing.T) {
	cfg := DefaultConfig().WithoutSkills()
	for _, kind := range AllSkills() {
		if cfg.Enabled(kind) {
			t.Fatalf("%s still enabled", kind)
		}
	}
	if !DefaultConfig().Enabled(SkillBomb) {
		t.Fatalf("WithoutSkills must not mutate the default")
	}
}

type constSource float64

func (c constSource) Float64() float64 { return float64(c) }

func TestRangeSample(t *testing.T) {
	r := Range{Min: 2, Max: 4}
	if got := r.Sample(constSource(0.5)); got != 3 {
		t.Fatalf("expected midpoint 3, got %v", got)
	}
	if got := Fixed(1.5).Sample(constSource(0.9)); got != 1.5 {
		t.Fatalf("fixed range must ignore the source, got %v", got)
	}
	if idx := pick(constSource(0.9999999), 3); idx != 2 {
		t.Fatalf("expected last index, got %d", idx)
	}
}

func TestValidateRejectsUnalignedCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDurationMs = 60050

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), "multiple of timeStepMs") {
		t.Fatalf("expected unaligned ceiling error, got %v", err)
	}
}
