// Package raceschema emits JSON schemas for the race wire contract and tuning files.
package raceschema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/invopop/jsonschema"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/race"
)

// tuningFile mirrors gameplay.Document with the raw tuning overlay typed as a race config.
type tuningFile struct {
	Modes map[string]tuningMode `json:"modes" jsonschema:"required"`
}

type tuningMode struct {
	Description string      `json:"description"`
	Tuning      race.Config `json:"tuning"`
}

type target struct {
	value       any
	title       string
	description string
}

var targets = map[string]target{
	"request": {
		value:       new(arena.Request),
		title:       "Duck Race Request",
		description: "Body accepted by POST /api/race and the Simulate RPC.",
	},
	"outcome": {
		value:       new(arena.Outcome),
		title:       "Duck Race Outcome",
		description: "Signed race outcome returned by POST /api/race and relayed to spectators.",
	},
	"result": {
		value:       new(race.Result),
		title:       "Duck Race Result",
		description: "Precomputed standings, event log and progress snapshots of one race.",
	},
	"tuning": {
		value:       new(tuningFile),
		title:       "Duck Race Tuning",
		description: "Operator tuning file; each mode overlays only the values it changes on the defaults.",
	},
}

// Names lists the schemas Build knows about.
func Names() []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build reflects the named schema.
func Build(name string) (*jsonschema.Schema, error) {
	t, ok := targets[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q (known: %v)", name, Names())
	}
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	schema := reflector.Reflect(t.value)
	schema.Title = t.title
	schema.Description = t.description
	return schema, nil
}

// Write stores schema at outPath through a temporary file so readers never see a partial schema.
func Write(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
