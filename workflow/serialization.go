package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToJSON renders the definition as indented JSON. Function inputs are not
// serializable; definitions meant for files should use static or named
// inputs.
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal workflow to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal workflow to YAML: %w", err)
	}
	return string(data), nil
}

// FromJSON parses and validates a definition.
func FromJSON(jsonStr string) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		return nil, fmt.Errorf("unmarshal workflow from JSON: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// FromYAML parses and validates a definition.
func FromYAML(yamlStr string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(yamlStr), &def); err != nil {
		return nil, fmt.Errorf("unmarshal workflow from YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFromJSONFile reads and validates a definition file.
func LoadFromJSONFile(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return FromJSON(string(data))
}

// LoadFromYAMLFile reads and validates a definition file.
func LoadFromYAMLFile(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return FromYAML(string(data))
}

// SaveToJSONFile writes the definition as JSON.
func (d *Definition) SaveToJSONFile(filename string) error {
	out, err := d.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(out), 0644); err != nil {
		return fmt.Errorf("write workflow file: %w", err)
	}
	return nil
}

// SaveToYAMLFile writes the definition as YAML.
func (d *Definition) SaveToYAMLFile(filename string) error {
	out, err := d.ToYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(out), 0644); err != nil {
		return fmt.Errorf("write workflow file: %w", err)
	}
	return nil
}
