package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"duckrace/server/internal/race"
)

// HeaderSchemaVersion tracks the schema version for bundle header documents.
const HeaderSchemaVersion = 2

// Metadata identifies the race a bundle belongs to.
type Metadata struct {
	RaceID string
	Title  string
	Mode   string
	Seed   int64
	Tuning race.Config
}

// Header is the catalogue entry persisted alongside a bundle.
type Header struct {
	SchemaVersion int          `json:"schema_version"`
	RaceID        string       `json:"race_id"`
	Title         string       `json:"title,omitempty"`
	Mode          string       `json:"mode,omitempty"`
	Seed          int64        `json:"seed"`
	CreatedAt     string       `json:"created_at,omitempty"`
	Tuning        *race.Config `json:"tuning,omitempty"`
	FilePointer   string       `json:"file_pointer"`
}

// Validate ensures the header contains enough information for catalogue tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.RaceID) == "" {
		return fmt.Errorf("race_id must not be empty")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	return writeJSON(path, header)
}

// ReadHeader loads and validates a header from disk.
func ReadHeader(path string) (Header, error) {
	var header Header
	if err := readJSON(path, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return header, nil
}

// writeJSON writes indented JSON with a trailing newline, creating parent directories.
func writeJSON(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
