package gameplay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "embed"

	"duckrace/server/internal/race"
)

// ErrUnknownMode is returned when a race mode has no preset.
var ErrUnknownMode = errors.New("unknown race mode")

// Preset is a named race tuning.
type Preset struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Config      race.Config `json:"tuning"`
}

// Document is the on-disk shape of a tuning file. Each mode's tuning overlays the defaults,
// so a mode only lists the values it changes.
type Document struct {
	Modes map[string]ModeDocument `json:"modes"`
}

// ModeDocument describes one mode inside a tuning file.
type ModeDocument struct {
	Description string          `json:"description"`
	Tuning      json.RawMessage `json:"tuning"`
}

// Catalog resolves race modes to validated presets.
type Catalog struct {
	presets map[string]Preset
}

//go:embed presets.json
var presetPayload []byte

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog shipped with the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		//1.- Parse the embedded document exactly once.
		defaultCatalog, defaultErr = Parse(presetPayload)
	})
	//2.- A broken embedded document is a build defect, not a runtime condition.
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultCatalog
}

// LookupPreset resolves mode against the embedded catalog.
func LookupPreset(mode string) (Preset, error) { return Default().Preset(mode) }

// Modes lists the embedded catalog's modes.
func Modes() []string { return Default().Modes() }

// LoadFile reads a custom tuning document from disk.
func LoadFile(path string) (*Catalog, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	catalog, err := Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes and validates a tuning document.
func Parse(payload []byte) (*Catalog, error) {
	var doc Document
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tuning document: %w", err)
	}
	if len(doc.Modes) == 0 {
		return nil, errors.New("tuning document declares no modes")
	}
	catalog := &Catalog{presets: make(map[string]Preset, len(doc.Modes))}
	for name, mode := range doc.Modes {
		key := normaliseMode(name)
		if key == "" {
			return nil, errors.New("tuning document contains a blank mode name")
		}
		cfg := race.DefaultConfig()
		if len(bytes.TrimSpace(mode.Tuning)) > 0 {
			overlay := json.NewDecoder(bytes.NewReader(mode.Tuning))
			overlay.DisallowUnknownFields()
			if err := overlay.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("mode %s: %w", key, err)
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("mode %s: %w", key, err)
		}
		catalog.presets[key] = Preset{Name: key, Description: mode.Description, Config: cfg}
	}
	return catalog, nil
}

// Preset returns the tuning registered for mode.
func (c *Catalog) Preset(mode string) (Preset, error) {
	if c == nil {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	preset, ok := c.presets[normaliseMode(mode)]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	preset.Config.Skills.Disabled = append([]race.SkillKind(nil), preset.Config.Skills.Disabled...)
	return preset, nil
}

// Modes lists the registered mode names in sorted order.
func (c *Catalog) Modes() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns every preset in mode order.
func (c *Catalog) Presets() []Preset {
	names := c.Modes()
	out := make([]Preset, 0, len(names))
	for _, name := range names {
		out = append(out, c.presets[name])
	}
	return out
}

func normaliseMode(mode string) string {
	return strings.ToLower(strings.TrimSpace(mode))
}
