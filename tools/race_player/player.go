// Package raceplayer decodes persisted race bundles for inspection.
package raceplayer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"duckrace/server/internal/race"
	"duckrace/server/internal/replay"
)

// Report is the JSON view of a bundle emitted by the CLI.
type Report struct {
	Header   replay.Header   `json:"header"`
	Manifest replay.Manifest `json:"manifest"`
	Summary  *replay.Summary `json:"summary,omitempty"`
	Events   []race.Event    `json:"events"`
	Frames   []replay.Frame  `json:"frames"`
}

// Load opens the bundle at path, which may be the bundle directory or its manifest.json.
func Load(path string) (*replay.Bundle, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	//1.- Accept the manifest itself so shell globs over manifests keep working.
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	return replay.OpenBundle(dir)
}

// NewReport flattens a bundle into its printable form.
func NewReport(bundle *replay.Bundle) Report {
	if bundle == nil {
		return Report{}
	}
	return Report{
		Header:   bundle.Header,
		Manifest: bundle.Manifest,
		Summary:  bundle.Summary,
		Events:   bundle.Events,
		Frames:   bundle.Frames,
	}
}

// WriteJSON encodes value with indentation so operators can read or pipe it.
func WriteJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// WriteStandings prints the final ranking as an aligned table.
func WriteStandings(w io.Writer, header replay.Header, result race.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s, seed %d)\n", displayTitle(header), header.Mode, header.Seed)
	fmt.Fprintln(tw, "POS\tDUCK\tMETERS\tFINISH")
	for _, standing := range result.Standings {
		finish := "DNF"
		if standing.Finished && standing.FinishTime != nil {
			finish = fmt.Sprintf("%.2fs", *standing.FinishTime/1000)
		}
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%s\n", standing.Position, standing.Name, standing.MetersTraveled, finish)
	}
	fmt.Fprintf(tw, "duration %.2fs, %d events, %d fizzles", float64(result.Duration)/1000, len(result.Events), result.Fizzles)
	if result.TimedOut {
		fmt.Fprint(tw, ", timed out")
	}
	fmt.Fprintln(tw)
	return tw.Flush()
}

// DumpRace is one race outcome read back from an admin dump.
type DumpRace struct {
	Sequence    uint64          `json:"sequence"`
	RaceID      string          `json:"raceId"`
	SimulatedMs int64           `json:"simulatedMs"`
	CapturedAt  string          `json:"capturedAt"`
	Outcome     json.RawMessage `json:"outcome"`
}

// DumpReport is the JSON view of a recorder dump.
type DumpReport struct {
	Label string     `json:"label"`
	Races []DumpRace `json:"races"`
}

// LoadDump reads a gzip dump rolled by the server recorder in capture order.
func LoadDump(path string) (DumpReport, error) {
	loader, err := replay.Load(strings.TrimSpace(path))
	if err != nil {
		return DumpReport{}, err
	}
	report := DumpReport{Label: loader.Label()}
	err = loader.Replay(func(entry replay.TimelineEntry) error {
		report.Races = append(report.Races, DumpRace{
			Sequence:    entry.Sequence,
			RaceID:      entry.RaceID,
			SimulatedMs: entry.SimulatedMs,
			CapturedAt:  entry.CapturedAt.Format(time.RFC3339Nano),
			Outcome:     entry.Payload,
		})
		return nil
	})
	return report, err
}

func displayTitle(header replay.Header) string {
	if header.Title != "" {
		return header.Title
	}
	return header.RaceID
}
