package race

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SkillKind names a castable skill.
type SkillKind string

const (
	SkillBoost     SkillKind = "boost"
	SkillBomb      SkillKind = "bomb"
	SkillSplash    SkillKind = "splash"
	SkillImmune    SkillKind = "immune"
	SkillLightning SkillKind = "lightning"
	SkillMagnet    SkillKind = "magnet"
)

// KindFinish discriminates finish events on the wire.
const KindFinish = "finish"

var allSkills = []SkillKind{SkillBoost, SkillBomb, SkillSplash, SkillImmune, SkillLightning, SkillMagnet}

// AllSkills returns every skill kind in selection order.
func AllSkills() []SkillKind {
	return append([]SkillKind(nil), allSkills...)
}

// Valid reports whether the kind is known.
func (k SkillKind) Valid() bool {
	for _, kind := range allSkills {
		if kind == k {
			return true
		}
	}
	return false
}

// lastPlaceOnly reports whether the skill is gated on the caster being last.
func (k SkillKind) lastPlaceOnly() bool {
	return k == SkillLightning || k == SkillMagnet
}

// ErrUnknownEvent is returned when decoding an event with an unrecognised kind.
var ErrUnknownEvent = errors.New("unknown race event kind")

// Event is one append-only entry of the race log.
type Event interface {
	// Kind returns the wire discriminator.
	Kind() string
	// Header returns the timestamp and actor shared by every event.
	Header() EventHeader
}

// EventHeader carries the fields every event has.
type EventHeader struct {
	TimeMs  int64  `json:"timeMs"`
	ActorID string `json:"actorId"`
}

// Header implements Event.
func (h EventHeader) Header() EventHeader { return h }

// FinishEvent records a racer crossing the line.
type FinishEvent struct {
	EventHeader
	FinishTime float64 `json:"finishTime"`
}

// BoostEvent records a self speed buff.
type BoostEvent struct {
	EventHeader
	Multiplier float64 `json:"multiplier"`
	DurationMs int64   `json:"durationMs"`
}

// BombEvent records a stun aimed at the racer directly ahead. An empty TargetID is a fizzle.
type BombEvent struct {
	EventHeader
	TargetID   string `json:"targetId,omitempty"`
	TargetName string `json:"targetName,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// SplashEvent records an area slow.
type SplashEvent struct {
	EventHeader
	AffectedIDs    []string `json:"affectedIds"`
	AffectedCount  int      `json:"affectedCount"`
	SpeedReduction float64  `json:"speedReduction"`
	DurationMs     int64    `json:"durationMs"`
}

// ImmuneEvent records a debuff immunity.
type ImmuneEvent struct {
	EventHeader
	DurationMs int64 `json:"durationMs"`
}

// LightningEvent records a field stun from the last-place racer.
type LightningEvent struct {
	EventHeader
	AffectedIDs   []string `json:"affectedIds"`
	AffectedCount int      `json:"affectedCount"`
	DurationMs    int64    `json:"durationMs"`
}

// MagnetEvent records a catch-up buff. A fizzle has an empty TargetID and zero payload.
type MagnetEvent struct {
	EventHeader
	TargetID     string  `json:"targetId,omitempty"`
	TargetName   string  `json:"targetName,omitempty"`
	BoostPercent float64 `json:"boostPercent"`
	DurationMs   int64   `json:"durationMs"`
}

func (FinishEvent) Kind() string    { return KindFinish }
func (BoostEvent) Kind() string     { return string(SkillBoost) }
func (BombEvent) Kind() string      { return string(SkillBomb) }
func (SplashEvent) Kind() string    { return string(SkillSplash) }
func (ImmuneEvent) Kind() string    { return string(SkillImmune) }
func (LightningEvent) Kind() string { return string(SkillLightning) }
func (MagnetEvent) Kind() string    { return string(SkillMagnet) }

func (e FinishEvent) MarshalJSON() ([]byte, error) {
	type plain FinishEvent
	return marshalTagged(e.Kind(), plain(e))
}

func (e BoostEvent) MarshalJSON() ([]byte, error) {
	type plain BoostEvent
	return marshalTagged(e.Kind(), plain(e))
}

func (e BombEvent) MarshalJSON() ([]byte, error) {
	type plain BombEvent
	return marshalTagged(e.Kind(), plain(e))
}

func (e SplashEvent) MarshalJSON() ([]byte, error) {
	type plain SplashEvent
	return marshalTagged(e.Kind(), plain(e))
}

func (e ImmuneEvent) MarshalJSON() ([]byte, error) {
	type plain ImmuneEvent
	return marshalTagged(e.Kind(), plain(e))
}

func (e LightningEvent) MarshalJSON() ([]byte, error) {
	type plain LightningEvent
	return marshalTagged(e.Kind(), plain(e))
}

func (e MagnetEvent) MarshalJSON() ([]byte, error) {
	type plain MagnetEvent
	return marshalTagged(e.Kind(), plain(e))
}

// marshalTagged prefixes the encoded payload object with its kind discriminator.
func marshalTagged(kind string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf(`{"kind":%q`, kind)
	if len(body) <= 2 {
		return []byte(prefix + "}"), nil
	}
	return append([]byte(prefix+","), body[1:]...), nil
}

// Fizzled reports whether a skill event resolved without changing any racer.
func Fizzled(event Event) bool {
	switch e := event.(type) {
	case BombEvent:
		return e.TargetID == ""
	case MagnetEvent:
		return e.TargetID == ""
	case SplashEvent:
		return e.AffectedCount == 0
	case LightningEvent:
		return e.AffectedCount == 0
	default:
		return false
	}
}

// DecodeEvent restores the concrete event encoded in data.
func DecodeEvent(data []byte) (Event, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event kind: %w", err)
	}
	var (
		event Event
		err   error
	)
	switch probe.Kind {
	case KindFinish:
		var e FinishEvent
		err = json.Unmarshal(data, &e)
		event = e
	case string(SkillBoost):
		var e BoostEvent
		err = json.Unmarshal(data, &e)
		event = e
	case string(SkillBomb):
		var e BombEvent
		err = json.Unmarshal(data, &e)
		event = e
	case string(SkillSplash):
		var e SplashEvent
		err = json.Unmarshal(data, &e)
		event = e
	case string(SkillImmune):
		var e ImmuneEvent
		err = json.Unmarshal(data, &e)
		event = e
	case string(SkillLightning):
		var e LightningEvent
		err = json.Unmarshal(data, &e)
		event = e
	case string(SkillMagnet):
		var e MagnetEvent
		err = json.Unmarshal(data, &e)
		event = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, probe.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", probe.Kind, err)
	}
	return event, nil
}
