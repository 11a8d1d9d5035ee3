package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"duckrace/server/internal/race"
	"duckrace/server/tools/race_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing race bundles")
	mode := flag.String("mode", "", "only list races recorded under this mode")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := racecatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	entries = racecatalog.FilterMode(entries, *mode)

	if *jsonFlag {
		payload, err := racecatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (schema %d)\n", entry.BundlePath, entry.Header.SchemaVersion)
		if entry.Header.Title != "" {
			fmt.Printf("  title: %s\n", entry.Header.Title)
		}
		fmt.Printf("  mode: %s  seed: %d\n", entry.Header.Mode, entry.Header.Seed)
		if entry.Header.CreatedAt != "" {
			fmt.Printf("  created: %s\n", entry.Header.CreatedAt)
		}
		if tuning := entry.Header.Tuning; tuning != nil {
			var enabled []string
			for _, kind := range race.AllSkills() {
				if tuning.Enabled(kind) {
					enabled = append(enabled, string(kind))
				}
			}
			fmt.Printf("  distance: %.0fm  skills: %s\n", tuning.Distance, strings.Join(enabled, ","))
		}
		fmt.Printf("  header: %s\n", entry.HeaderPath)
	}
}
