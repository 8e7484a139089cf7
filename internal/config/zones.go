package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"orchestra/internal/errors"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ZoneFile is a declarative set of zones applied with `orchestra zone apply`.
type ZoneFile struct {
	Zones []ZoneDefinition `yaml:"zones" json:"zones"`
}

type ZoneDefinition struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Triggers    []TriggerDefinition `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

type TriggerDefinition struct {
	ID        string               `yaml:"id,omitempty" json:"id,omitempty"`
	Event     string               `yaml:"event" json:"event"`
	Condition *ConditionDefinition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Actions   []ActionDefinition   `yaml:"actions" json:"actions"`
}

type ConditionDefinition struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
}

type ActionDefinition struct {
	Type       string            `yaml:"type" json:"type"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// LoadZoneFile reads zone definitions from YAML, JSON or JSONC, chosen by extension.
func LoadZoneFile(path string) (*ZoneFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.ConfigParseError(err)
	}
	return ParseZoneFile(data, filepath.Ext(path))
}

// ParseZoneFile decodes zone definitions. ext selects the format (".yaml", ".yml", ".json", ".jsonc").
func ParseZoneFile(data []byte, ext string) (*ZoneFile, error) {
	var zf ZoneFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &zf); err != nil {
			return nil, errors.ConfigParseError(err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &zf); err != nil {
			return nil, errors.ConfigParseError(err)
		}
	default:
		return nil, errors.ConfigValidationError("zone file", fmt.Sprintf("unsupported extension %q", ext))
	}

	seen := make(map[string]bool, len(zf.Zones))
	for i, z := range zf.Zones {
		if strings.TrimSpace(z.Name) == "" {
			return nil, errors.ConfigValidationError(fmt.Sprintf("zones[%d].name", i), "cannot be empty")
		}
		if seen[z.Name] {
			return nil, errors.ConfigValidationError(fmt.Sprintf("zones[%d].name", i), fmt.Sprintf("duplicate zone %q", z.Name))
		}
		seen[z.Name] = true
	}
	return &zf, nil
}
