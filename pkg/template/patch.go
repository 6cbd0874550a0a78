package template

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatchMode selects when patch values are applied.
type PatchMode string

const (
	// PatchPre injects values as template variables before expansion, so
	// derived values in the template are recomputed.
	PatchPre PatchMode = "pre"
	// PatchPost replaces literal leaf values on the instantiated manifest.
	PatchPost PatchMode = "post"
)

// ParsePatchMode validates a mode string from the CLI.
func ParsePatchMode(s string) (PatchMode, error) {
	switch PatchMode(s) {
	case PatchPre, PatchPost:
		return PatchMode(s), nil
	default:
		return "", fmt.Errorf("patch mode must be %q or %q, got %q", PatchPre, PatchPost, s)
	}
}

// PatchRow is one parameter set from a patch table. Name distinguishes the
// manifests produced from a multi-row table.
type PatchRow struct {
	Name   string
	Values map[string]string
}

// LoadPatchTable reads a patch table. YAML files (.yaml/.yml) hold a list of
// mappings with a "name" key; everything else is parsed as semicolon
// separated CSV whose header starts with "name".
func LoadPatchTable(path string) ([]PatchRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAMLTable(path)
	default:
		return loadCSVTable(path)
	}
}

func loadCSVTable(path string) ([]PatchRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse patch table %s: %w", filepath.Base(path), err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("patch table %s needs a header and at least one row", filepath.Base(path))
	}
	header := records[0]
	if !strings.EqualFold(strings.TrimSpace(header[0]), "name") {
		return nil, fmt.Errorf("patch table %s: first header column must be \"name\", got %q", filepath.Base(path), header[0])
	}

	rows := make([]PatchRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		name := strings.TrimSpace(rec[0])
		if name == "" {
			return nil, fmt.Errorf("patch table %s: row %d has an empty name", filepath.Base(path), i+2)
		}
		row := PatchRow{Name: name, Values: make(map[string]string, len(header)-1)}
		for j := 1; j < len(header); j++ {
			row.Values[strings.TrimSpace(header[j])] = strings.TrimSpace(rec[j])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func loadYAMLTable(path string) ([]PatchRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch table: %w", err)
	}
	var raw []map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse patch table %s: %w", filepath.Base(path), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("patch table %s holds no rows", filepath.Base(path))
	}
	rows := make([]PatchRow, 0, len(raw))
	for i, entry := range raw {
		name, ok := entry["name"]
		if !ok || name == "" {
			return nil, fmt.Errorf("patch table %s: entry %d has no \"name\" key", filepath.Base(path), i+1)
		}
		row := PatchRow{Name: name, Values: make(map[string]string, len(entry)-1)}
		for k, v := range entry {
			if k == "name" {
				continue
			}
			row.Values[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
