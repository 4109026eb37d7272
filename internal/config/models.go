package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Capability describes what a model supports. Models absent from the
// manifest get the zero value: no tool calling, no extended thinking.
type Capability struct {
	Tools    bool   `yaml:"tools"`
	Thinking string `yaml:"thinking"` // "", "low", "medium", or "high"
}

// Capabilities maps model names to their capabilities.
type Capabilities map[string]Capability

// Lookup returns the capability entry for model. Unknown models resolve
// to the zero value so requests degrade to plain chat rather than fail.
func (c Capabilities) Lookup(model string) Capability {
	return c[model]
}

// DefaultCapabilities returns the built-in capability manifest.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		"gpt-oss:20b": {Tools: true, Thinking: "low"},
	}
}

// LoadCapabilities returns the built-in manifest merged with entries from
// models.yaml in the config directory, when that file exists. User entries
// override built-ins model by model.
func LoadCapabilities() (Capabilities, error) {
	caps := DefaultCapabilities()

	configDir, err := GetConfigDir()
	if err != nil {
		return caps, nil
	}
	path := filepath.Join(configDir, "models.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return caps, nil
		}
		return nil, fmt.Errorf("read models.yaml: %w", err)
	}

	var overrides Capabilities
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse models.yaml: %w", err)
	}
	for name, c := range overrides {
		caps[name] = c
	}
	return caps, nil
}
