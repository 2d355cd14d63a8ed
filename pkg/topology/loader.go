package topology

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Load decodes a clock tree document. Unknown fields are rejected so that a
// misspelled field name does not silently leave a node unconfigured.
func Load(data []byte) (*ClockTree, error) {
	tree := &ClockTree{}
	if err := yaml.UnmarshalStrict(data, tree); err != nil {
		return nil, fmt.Errorf("failed to decode clock tree: %w", err)
	}
	if tree.APIVersion == "" || tree.Kind == "" {
		return nil, fmt.Errorf("clock tree must set apiVersion and kind")
	}
	if tree.APIVersion != APIVersion || tree.Kind != Kind {
		return nil, fmt.Errorf("unsupported document %s/%s, expected %s/%s", tree.APIVersion, tree.Kind, APIVersion, Kind)
	}
	return tree, nil
}

// LoadFile reads and decodes the clock tree document at path.
func LoadFile(path string) (*ClockTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}
