// Package racecatalog indexes persisted race bundles by their headers.
package racecatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"duckrace/server/internal/replay"
)

// Entry captures a bundle header alongside its resolved artefact path.
type Entry struct {
	HeaderPath string        `json:"header_path"`
	BundlePath string        `json:"bundle_path"`
	Header     replay.Header `json:"header"`
}

// List walks the directory tree and returns parsed bundle headers, oldest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Walk the directory tree searching for bundle headers.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return err
		}
		bundlePath := header.FilePointer
		if !filepath.IsAbs(bundlePath) {
			bundlePath = filepath.Join(filepath.Dir(path), bundlePath)
		}
		entries = append(entries, Entry{HeaderPath: path, BundlePath: bundlePath, Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.CreatedAt == entries[j].Header.CreatedAt {
			return entries[i].Header.RaceID < entries[j].Header.RaceID
		}
		return entries[i].Header.CreatedAt < entries[j].Header.CreatedAt
	})
	return entries, nil
}

// FilterMode keeps the entries recorded under mode. An empty mode keeps everything.
func FilterMode(entries []Entry, mode string) []Entry {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return entries
	}
	filtered := entries[:0:0]
	for _, entry := range entries {
		if strings.ToLower(entry.Header.Mode) == mode {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	//1.- Marshal with indentation to keep CLI output legible for operators.
	return json.MarshalIndent(entries, "", "  ")
}
