package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RolePreset is a reusable child-session template: spawning "a researcher"
// should mean the same role text and default model everywhere in a tree.
type RolePreset struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Role        string `yaml:"role" json:"role"`
	Model       string `yaml:"model,omitempty" json:"model,omitempty"`
}

// Built-in presets available without any preset file.
var builtinPresets = map[string]RolePreset{
	"researcher": {
		Name:        "researcher",
		Description: "Investigates a question and delivers findings",
		Role:        "researcher",
	},
	"implementer": {
		Name:        "implementer",
		Description: "Writes code against an agreed design",
		Role:        "implementer",
	},
	"reviewer": {
		Name:        "reviewer",
		Description: "Reviews another session's deliverable",
		Role:        "reviewer",
	},
}

// PresetSet resolves role presets by name.
type PresetSet struct {
	presets map[string]RolePreset
}

// LoadPresets returns the built-in presets overlaid with the YAML preset file
// at path, when given. File entries win over built-ins with the same name.
func LoadPresets(path string) (*PresetSet, error) {
	presets := make(map[string]RolePreset, len(builtinPresets))
	for name, p := range builtinPresets {
		presets[name] = p
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read presets file: %w", err)
		}
		var file struct {
			Presets []RolePreset `yaml:"presets"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decode presets file: %w", err)
		}
		for _, p := range file.Presets {
			if p.Name == "" {
				return nil, fmt.Errorf("preset without a name in %s", path)
			}
			if p.Role == "" {
				p.Role = p.Name
			}
			presets[p.Name] = p
		}
	}
	return &PresetSet{presets: presets}, nil
}

// Get resolves a preset by name.
func (ps *PresetSet) Get(name string) (RolePreset, bool) {
	p, ok := ps.presets[name]
	return p, ok
}

// Names lists the available preset names, sorted.
func (ps *PresetSet) Names() []string {
	names := make([]string, 0, len(ps.presets))
	for name := range ps.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
