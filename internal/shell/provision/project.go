package provision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadProjectFile loads a project configuration file into a YAML document
// node, preserving declaration order for the parser.
func ReadProjectFile(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read project file %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("project file %s is not valid YAML: %w", path, err)
	}
	return &doc, nil
}
