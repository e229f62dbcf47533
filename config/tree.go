package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tree is an ordered configuration document. Keys keep the order in which they
// appear in the source, and new keys are appended at the end of their level.
// A Tree is safe for concurrent reads; it is only ever written by
// ApplyOverrides, which works on a Clone.
type Tree struct {
	root *yaml.Node
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{root: newMapping()}
}

// ParseTree parses a YAML document whose top level is a mapping.
// Aliases are expanded so that every node in the tree has a single owner.
func ParseTree(data []byte) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrConfigParse)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping, got %s", ErrConfigParse, kindName(root))
	}
	root = expandAliases(root)
	if err := checkDuplicateKeys(root, ""); err != nil {
		return nil, err
	}
	return &Tree{root: root}, nil
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	return &Tree{root: cloneNode(t.root)}
}

// Lookup returns the node at a dotted path.
func (t *Tree) Lookup(path string) (*yaml.Node, bool) {
	cur := t.root
	for _, key := range strings.Split(path, ".") {
		if cur.Kind != yaml.MappingNode {
			return nil, false
		}
		next := mappingValue(cur, key)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Value decodes the node at a dotted path into a plain Go value
// (string, int, float64, bool, []any, map[string]any).
func (t *Tree) Value(path string) (any, bool) {
	n, ok := t.Lookup(path)
	if !ok {
		return nil, false
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// Bool reports the boolean at path, false when absent or not a bool.
func (t *Tree) Bool(path string) bool {
	v, _ := t.Value(path)
	b, _ := v.(bool)
	return b
}

// Sections returns the top-level keys in document order.
func (t *Tree) Sections() []string {
	keys := make([]string, 0, len(t.root.Content)/2)
	for i := 0; i+1 < len(t.root.Content); i += 2 {
		keys = append(keys, t.root.Content[i].Value)
	}
	return keys
}

// Walk calls fn for every leaf of the tree (scalars and sequences) with its
// dotted path, in document order. Walking stops at the first error.
func (t *Tree) Walk(fn func(path string, n *yaml.Node) error) error {
	return walk(t.root, "", fn)
}

func walk(n *yaml.Node, prefix string, fn func(string, *yaml.Node) error) error {
	if n.Kind != yaml.MappingNode {
		return fn(prefix, n)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		path := n.Content[i].Value
		if prefix != "" {
			path = prefix + "." + path
		}
		if err := walk(n.Content[i+1], path, fn); err != nil {
			return err
		}
	}
	return nil
}

// Decode decodes the whole tree into v.
func (t *Tree) Decode(v any) error {
	return t.root.Decode(v)
}

// Marshal encodes the tree back to YAML.
func (t *Tree) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t.root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// mappingValue returns the value node for key in mapping m, or nil.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// setMappingValue replaces the value for key in m, or appends the pair.
func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			value.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Content != nil {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}

func expandAliases(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return expandAliases(cloneNode(n.Alias))
	}
	for i, child := range n.Content {
		n.Content[i] = expandAliases(child)
	}
	return n
}

func checkDuplicateKeys(n *yaml.Node, prefix string) error {
	switch n.Kind {
	case yaml.MappingNode:
		seen := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			if seen[key] && n.Content[i].Tag != "!!merge" {
				return fmt.Errorf("%w: duplicate key %q (line %d)", ErrConfigParse, path, n.Content[i].Line)
			}
			seen[key] = true
			if err := checkDuplicateKeys(n.Content[i+1], path); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, child := range n.Content {
			if err := checkDuplicateKeys(child, fmt.Sprintf("%s[%d]", prefix, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		if n.ShortTag() == "!!null" {
			return "null"
		}
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	return "unknown"
}
