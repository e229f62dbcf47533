package config

import (
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override sets the value at a dotted path. Raw is the literal as typed by the
// operator; it is coerced when applied.
type Override struct {
	Path string
	Raw  string
}

func (o Override) String() string { return o.Path + "=" + o.Raw }

// ParseOverride parses a KEY=VALUE string. The value is everything after the
// first '=' and may be empty.
func ParseOverride(s string) (Override, error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok {
		return Override{}, fmt.Errorf("%w: %q must be KEY=VALUE", ErrInvalidOverride, s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Override{}, fmt.Errorf("%w: %q has an empty key", ErrInvalidOverride, s)
	}
	for _, seg := range strings.Split(key, ".") {
		if seg == "" {
			return Override{}, fmt.Errorf("%w: %q has an empty path segment", ErrInvalidOverride, s)
		}
	}
	return Override{Path: key, Raw: raw}, nil
}

// ParseOverrides parses every entry with ParseOverride.
func ParseOverrides(entries []string) ([]Override, error) {
	out := make([]Override, 0, len(entries))
	for _, e := range entries {
		o, err := ParseOverride(e)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ApplyOverrides returns a copy of tree with each override applied in order.
// Missing intermediate keys (or null ones) become empty mappings. Crossing any
// other non-mapping value fails with ErrOverrideConflict and the input tree is
// left as it was.
func ApplyOverrides(tree *Tree, overrides []Override, logger *slog.Logger) (*Tree, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	merged := tree.Clone()
	for _, o := range overrides {
		value := CoerceScalar(o.Raw)
		if err := setPath(merged.root, strings.Split(o.Path, "."), value); err != nil {
			return nil, fmt.Errorf("apply %q: %w", o.String(), err)
		}
		logger.Debug("config override applied", "path", o.Path, "value", value.Value, "type", strings.TrimPrefix(value.Tag, "!!"))
	}
	return merged, nil
}

func setPath(root *yaml.Node, path []string, value *yaml.Node) error {
	cur := root
	for i, key := range path[:len(path)-1] {
		next := mappingValue(cur, key)
		switch {
		case next == nil || isNull(next):
			next = newMapping()
			setMappingValue(cur, key, next)
		case next.Kind != yaml.MappingNode:
			return fmt.Errorf("%w: %s is a %s, not a mapping", ErrOverrideConflict, strings.Join(path[:i+1], "."), kindName(next))
		}
		cur = next
	}
	setMappingValue(cur, path[len(path)-1], value)
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

// CoerceScalar types a raw literal the way the YAML document would: plain
// integers, floats and booleans keep their type, quoted literals lose their
// quotes, and everything else (null, lists, mappings, anchors, tags) is a
// string holding raw unchanged.
func CoerceScalar(raw string) *yaml.Node {
	str := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: raw}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil || len(doc.Content) != 1 {
		return str
	}
	n := doc.Content[0]
	if n.Kind != yaml.ScalarNode || n.Anchor != "" {
		return str
	}
	switch n.Style {
	case 0:
		switch tag := n.ShortTag(); tag {
		case "!!int", "!!float", "!!bool":
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: n.Value}
		}
	case yaml.DoubleQuotedStyle, yaml.SingleQuotedStyle:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n.Value}
	}
	return str
}
