package race

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultDistance is the race length in meters.
	DefaultDistance = 4000.0
	// DefaultBaseSpeed is the speed every racer starts with, in meters per second.
	DefaultBaseSpeed = 100.0
	// DefaultTimeStepMs is the fixed simulated-time increment of one step.
	DefaultTimeStepMs int64 = 100
	// DefaultMaxDurationMs is the hard ceiling on simulated time.
	DefaultMaxDurationMs int64 = 60000
	// DefaultSnapshotIntervalMs is the cadence of progress snapshots.
	DefaultSnapshotIntervalMs int64 = 500
)

// ErrInvalidConfig is returned when a configuration cannot drive a race.
var ErrInvalidConfig = errors.New("invalid race config")

// Range is an inclusive interval sampled uniformly for durations and cooldowns.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Fixed returns a degenerate range that always samples to value.
func Fixed(value float64) Range { return Range{Min: value, Max: value} }

// Sample draws a value from the range using src.
func (r Range) Sample(src Source) float64 {
	if r.Max <= r.Min || src == nil {
		return r.Min
	}
	return r.Min + src.Float64()*(r.Max-r.Min)
}

func (r Range) validate(name string) error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%s must not be negative", name)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%s max %.3f is below min %.3f", name, r.Max, r.Min)
	}
	return nil
}

// BoostConfig tunes the self speed buff.
type BoostConfig struct {
	SpeedMultiplier float64 `json:"speedMultiplier"`
	Duration        Range   `json:"duration"`
	Cooldown        Range   `json:"cooldown"`
}

// BombConfig tunes the single target stun.
type BombConfig struct {
	StunDuration Range `json:"stunDuration"`
	Cooldown     Range `json:"cooldown"`
}

// SplashConfig tunes the area slow.
type SplashConfig struct {
	SpeedReduction float64 `json:"speedReduction"`
	Radius         float64 `json:"radius"`
	Duration       Range   `json:"duration"`
	Cooldown       Range   `json:"cooldown"`
}

// ImmuneConfig tunes the debuff immunity.
type ImmuneConfig struct {
	Duration Range `json:"duration"`
	Cooldown Range `json:"cooldown"`
}

// LightningConfig tunes the last-place field stun. The stun duration is not randomized.
type LightningConfig struct {
	StunDuration float64 `json:"stunDuration"`
	Cooldown     Range   `json:"cooldown"`
}

// MagnetConfig tunes the last-place catch-up buff. The boost scales linearly with the gap to
// the leader and saturates at MaxBoost once the gap reaches FullBoostGap meters.
type MagnetConfig struct {
	MaxBoost     float64 `json:"maxBoost"`
	FullBoostGap float64 `json:"fullBoostGap"`
	Duration     Range   `json:"duration"`
	Cooldown     Range   `json:"cooldown"`
}

// SkillConfig groups the per-skill tunables.
type SkillConfig struct {
	Boost     BoostConfig     `json:"boost"`
	Bomb      BombConfig      `json:"bomb"`
	Splash    SplashConfig    `json:"splash"`
	Immune    ImmuneConfig    `json:"immune"`
	Lightning LightningConfig `json:"lightning"`
	Magnet    MagnetConfig    `json:"magnet"`
	Disabled  []SkillKind     `json:"disabled,omitempty"`
}

// AttemptConfig controls when racers try to use skills. Ranges are in seconds.
type AttemptConfig struct {
	InitialDelay    Range   `json:"initialDelay"`
	InitialCooldown Range   `json:"initialCooldown"`
	Interval        Range   `json:"interval"`
	RetryDelay      float64 `json:"retryDelay"`
}

// Config is the immutable parameter set of a race.
type Config struct {
	Distance           float64       `json:"distance"`
	BaseSpeed          float64       `json:"baseSpeed"`
	TimeStepMs         int64         `json:"timeStepMs"`
	MaxDurationMs      int64         `json:"maxDurationMs"`
	SnapshotIntervalMs int64         `json:"snapshotIntervalMs"`
	Attempts           AttemptConfig `json:"attempts"`
	Skills             SkillConfig   `json:"skills"`
}

// DefaultConfig returns the standard casual race tuning.
func DefaultConfig() Config {
	cooldown := Range{Min: 5, Max: 8}
	return Config{
		Distance:           DefaultDistance,
		BaseSpeed:          DefaultBaseSpeed,
		TimeStepMs:         DefaultTimeStepMs,
		MaxDurationMs:      DefaultMaxDurationMs,
		SnapshotIntervalMs: DefaultSnapshotIntervalMs,
		Attempts: AttemptConfig{
			InitialDelay:    Range{Min: 2, Max: 4},
			InitialCooldown: Range{Min: 2, Max: 4},
			Interval:        Range{Min: 5, Max: 8},
			RetryDelay:      1,
		},
		Skills: SkillConfig{
			Boost:     BoostConfig{SpeedMultiplier: 1.3, Duration: Range{Min: 2, Max: 4}, Cooldown: cooldown},
			Bomb:      BombConfig{StunDuration: Range{Min: 2, Max: 3}, Cooldown: cooldown},
			Splash:    SplashConfig{SpeedReduction: 0.2, Radius: 200, Duration: Range{Min: 2, Max: 3}, Cooldown: cooldown},
			Immune:    ImmuneConfig{Duration: Range{Min: 3, Max: 5}, Cooldown: cooldown},
			Lightning: LightningConfig{StunDuration: 1.5, Cooldown: cooldown},
			Magnet:    MagnetConfig{MaxBoost: 0.8, FullBoostGap: 400, Duration: Range{Min: 3, Max: 4}, Cooldown: cooldown},
		},
	}
}

// WithoutSkills returns a copy of the config with every skill disabled.
func (c Config) WithoutSkills() Config {
	c.Skills.Disabled = append([]SkillKind(nil), AllSkills()...)
	return c
}

// Enabled reports whether kind may be cast under this config.
func (c Config) Enabled(kind SkillKind) bool {
	for _, disabled := range c.Skills.Disabled {
		if disabled == kind {
			return false
		}
	}
	return true
}

// Validate reports every problem that would prevent the config from driving a race.
func (c Config) Validate() error {
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}
	if !(c.Distance > 0) {
		problems = append(problems, "distance must be positive")
	}
	if !(c.BaseSpeed > 0) {
		problems = append(problems, "baseSpeed must be positive")
	}
	if c.TimeStepMs <= 0 {
		problems = append(problems, "timeStepMs must be positive")
	}
	if c.MaxDurationMs < c.TimeStepMs {
		problems = append(problems, "maxDurationMs must cover at least one step")
	} else if c.TimeStepMs > 0 && c.MaxDurationMs%c.TimeStepMs != 0 {
		problems = append(problems, fmt.Sprintf("maxDurationMs %d must be a multiple of timeStepMs %d", c.MaxDurationMs, c.TimeStepMs))
	}
	if c.SnapshotIntervalMs <= 0 {
		problems = append(problems, "snapshotIntervalMs must be positive")
	}
	add(c.Attempts.InitialDelay.validate("attempts.initialDelay"))
	add(c.Attempts.InitialCooldown.validate("attempts.initialCooldown"))
	add(c.Attempts.Interval.validate("attempts.interval"))
	if !(c.Attempts.RetryDelay > 0) {
		problems = append(problems, "attempts.retryDelay must be positive")
	}

	s := c.Skills
	if !(s.Boost.SpeedMultiplier > 0) {
		problems = append(problems, "boost.speedMultiplier must be positive")
	}
	if s.Splash.SpeedReduction < 0 || s.Splash.SpeedReduction >= 1 {
		problems = append(problems, "splash.speedReduction must be within [0, 1)")
	}
	if s.Splash.Radius < 0 {
		problems = append(problems, "splash.radius must not be negative")
	}
	if s.Lightning.StunDuration < 0 {
		problems = append(problems, "lightning.stunDuration must not be negative")
	}
	if s.Magnet.MaxBoost < 0 {
		problems = append(problems, "magnet.maxBoost must not be negative")
	}
	if !(s.Magnet.FullBoostGap > 0) {
		problems = append(problems, "magnet.fullBoostGap must be positive")
	}
	add(s.Boost.Duration.validate("boost.duration"))
	add(s.Boost.Cooldown.validate("boost.cooldown"))
	add(s.Bomb.StunDuration.validate("bomb.stunDuration"))
	add(s.Bomb.Cooldown.validate("bomb.cooldown"))
	add(s.Splash.Duration.validate("splash.duration"))
	add(s.Splash.Cooldown.validate("splash.cooldown"))
	add(s.Immune.Duration.validate("immune.duration"))
	add(s.Immune.Cooldown.validate("immune.cooldown"))
	add(s.Lightning.Cooldown.validate("lightning.cooldown"))
	add(s.Magnet.Duration.validate("magnet.duration"))
	add(s.Magnet.Cooldown.validate("magnet.cooldown"))
	for _, kind := range s.Disabled {
		if !kind.Valid() {
			problems = append(problems, fmt.Sprintf("unknown disabled skill %q", kind))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// clone copies the config so results never alias caller-owned slices.
func (c Config) clone() Config {
	c.Skills.Disabled = append([]SkillKind(nil), c.Skills.Disabled...)
	return c
}

// cooldownFor returns the cooldown range of kind.
func (c Config) cooldownFor(kind SkillKind) Range {
	switch kind {
	case SkillBoost:
		return c.Skills.Boost.Cooldown
	case SkillBomb:
		return c.Skills.Bomb.Cooldown
	case SkillSplash:
		return c.Skills.Splash.Cooldown
	case SkillImmune:
		return c.Skills.Immune.Cooldown
	case SkillLightning:
		return c.Skills.Lightning.Cooldown
	case SkillMagnet:
		return c.Skills.Magnet.Cooldown
	default:
		return Range{}
	}
}
