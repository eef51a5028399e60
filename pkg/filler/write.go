package filler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/smallyunet/ethfill/pkg/blockchain"
)

// Write stores the report's fixtures under dir as <format>/<job>.json, each
// file holding a map of fixture name to fixture. With single set, every
// fixture gets its own file under <format>/<job>/. It returns the paths
// written in order.
func Write(dir string, report *Report, single bool) ([]string, error) {
	var paths []string
	for _, format := range sortedKeys(report.Fixtures) {
		byJob := report.Fixtures[format]
		for _, job := range sortedKeys(byJob) {
			fixtures := byJob[job]
			if !single {
				path := filepath.Join(dir, format, fileName(job)+".json")
				if err := writeFixtures(path, fixtures); err != nil {
					return paths, err
				}
				paths = append(paths, path)
				continue
			}
			for _, name := range sortedKeys(fixtures) {
				path := filepath.Join(dir, format, fileName(job), fileName(name)+".json")
				if err := writeFixtures(path, map[string]blockchain.Output{name: fixtures[name]}); err != nil {
					return paths, err
				}
				paths = append(paths, path)
			}
		}
	}
	return paths, nil
}

// writeFixtures writes atomically: to a temporary file first, then renamed
// over path.
func writeFixtures(path string, fixtures map[string]blockchain.Output) error {
	data, err := json.MarshalIndent(fixtures, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

func fileName(s string) string { return unsafeChars.Replace(s) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
