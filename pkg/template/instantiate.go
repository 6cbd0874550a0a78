// Package template turns workflow templates into instantiated manifest
// documents. A template is a jsonnet program; an already-instantiated .json
// file passes through unchanged. Patches parameterize a template into one or
// more manifests, either before expansion (as template variables) or after
// (as literal leaf replacement).
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-jsonnet"

	"github.com/ormasoftchile/stepflow/pkg/manifest"
)

// OutputVar is the external variable templates read the output directory
// from.
const OutputVar = "__output"

// Options configures a template evaluation.
type Options struct {
	// Jpath lists library search paths handed to the jsonnet importer.
	Jpath []string
	// Vars are named bindings exposed to the template as external variables.
	Vars map[string]string
	// OutputDir is exposed as the __output external variable.
	OutputDir string
}

// Instantiate resolves path into a single manifest document. Files ending in
// .json are read verbatim; anything else is evaluated as a jsonnet template.
func Instantiate(path string, opts Options) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		return data, nil
	}

	vm := jsonnet.MakeVM()
	vm.Importer(&jsonnet.FileImporter{JPaths: opts.Jpath})
	for k, v := range opts.Vars {
		vm.ExtVar(k, v)
	}
	if opts.OutputDir != "" {
		vm.ExtVar(OutputVar, opts.OutputDir)
	}
	out, err := vm.EvaluateFile(path)
	if err != nil {
		return nil, fmt.Errorf("evaluate template %s: %w", filepath.Base(path), err)
	}
	return []byte(out), nil
}

// Instance is one instantiated manifest. Name is the base name (without
// extension) the manifest should be written under.
type Instance struct {
	Name string
	Data []byte
}

// InstantiateAll expands path into one manifest per patch row, or a single
// manifest when patchPath is empty. Pre-mode patches are injected as
// template variables (overriding opts.Vars) and the template is re-expanded
// per row; post-mode patches replace matching leaf values on the already
// instantiated document.
func InstantiateAll(path string, opts Options, patchPath string, mode PatchMode) ([]Instance, error) {
	stem := fileStem(path)
	if patchPath == "" {
		data, err := Instantiate(path, opts)
		if err != nil {
			return nil, err
		}
		return []Instance{{Name: stem, Data: data}}, nil
	}

	rows, err := LoadPatchTable(patchPath)
	if err != nil {
		return nil, err
	}

	switch mode {
	case PatchPre:
		return instantiatePre(path, stem, opts, rows)
	case PatchPost:
		return instantiatePost(path, stem, opts, rows)
	default:
		return nil, fmt.Errorf("unknown patch mode %q", mode)
	}
}

func instantiatePre(path, stem string, opts Options, rows []PatchRow) ([]Instance, error) {
	out := make([]Instance, 0, len(rows))
	for _, row := range rows {
		merged := Options{
			Jpath:     opts.Jpath,
			OutputDir: opts.OutputDir,
			Vars:      make(map[string]string, len(opts.Vars)+len(row.Values)),
		}
		for k, v := range opts.Vars {
			merged.Vars[k] = v
		}
		for k, v := range row.Values {
			merged.Vars[k] = v
		}
		data, err := Instantiate(path, merged)
		if err != nil {
			return nil, fmt.Errorf("patch row %q: %w", row.Name, err)
		}
		out = append(out, Instance{Name: stem + "_" + row.Name, Data: data})
	}
	return out, nil
}

func instantiatePost(path, stem string, opts Options, rows []PatchRow) ([]Instance, error) {
	base, err := Instantiate(path, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Instance, 0, len(rows))
	for _, row := range rows {
		tree, err := manifest.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse instantiated manifest: %w", err)
		}
		for k, v := range row.Values {
			quoted := json.RawMessage(strconv.Quote(v))
			if n := tree.RewriteLeaves(k, quoted); n == 0 {
				return nil, fmt.Errorf("patch row %q: key %q matches nothing in the manifest", row.Name, k)
			}
		}
		data, err := tree.Encode()
		if err != nil {
			return nil, fmt.Errorf("patch row %q: %w", row.Name, err)
		}
		out = append(out, Instance{Name: stem + "_" + row.Name, Data: data})
	}
	return out, nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
