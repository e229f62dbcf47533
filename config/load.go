package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the document at path and checks that every required
// section is present as a mapping.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	tree, err := ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkRequiredSections(tree); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

func checkRequiredSections(t *Tree) error {
	var missing []string
	for _, section := range RequiredSections {
		n, ok := t.Lookup(section)
		if !ok {
			missing = append(missing, section)
			continue
		}
		if n.Kind != yaml.MappingNode {
			return fmt.Errorf("%w: section %q must be a mapping, got %s", ErrConfigParse, section, kindName(n))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required sections %v", ErrConfigParse, missing)
	}
	return nil
}
