package layer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	layersSubdir = "layers"
	layerYAML    = "layer.yaml"
)

// ScanDir scans <workspaceDir>/layers/ for one subdirectory per layer, each
// containing a layer.yaml, grounded on the same directory-per-item loading
// pattern used for skill.yaml. Subdirectories without a layer.yaml are
// silently skipped; a missing layers/ directory returns an empty slice, not
// an error. Results are sorted by Name so configured order is deterministic
// across OS directory-listing orders — callers apply their own explicit
// ordering on top when the spec requires "configured order" semantics not
// derivable from directory name alone.
func ScanDir(workspaceDir string) ([]*Def, []error) {
	layersDir := filepath.Join(workspaceDir, layersSubdir)

	entries, err := os.ReadDir(layersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("layer: scan %q: %w", layersDir, err)}
	}

	var defs []*Def
	var errs []error

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		dir := filepath.Join(layersDir, e.Name())
		yamlPath := filepath.Join(dir, layerYAML)

		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("layer: read %q: %w", yamlPath, err))
			continue
		}

		var def Def
		if err := yaml.Unmarshal(data, &def); err != nil {
			errs = append(errs, fmt.Errorf("layer: parse %q: %w", yamlPath, err))
			continue
		}
		if err := validateDef(&def, e.Name()); err != nil {
			errs = append(errs, err)
			continue
		}

		def.Dir = dir
		defs = append(defs, &def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, errs
}

func validateDef(def *Def, dirName string) error {
	if def.Name == "" {
		return fmt.Errorf("layer %q: name is required", dirName)
	}
	if def.SystemPrompt == "" {
		return fmt.Errorf("layer %q: system_prompt is required", dirName)
	}
	switch def.InputMode {
	case "", InputReplace, InputAppend, InputPrepend:
	default:
		return fmt.Errorf("layer %q: unknown input_mode %q", dirName, def.InputMode)
	}
	switch def.OutputMode {
	case "", OutputNone, OutputAppend, OutputReplace:
	default:
		return fmt.Errorf("layer %q: unknown output_mode %q", dirName, def.OutputMode)
	}
	if def.InputMode == "" {
		def.InputMode = InputReplace
	}
	if def.OutputMode == "" {
		def.OutputMode = OutputNone
	}
	return nil
}
