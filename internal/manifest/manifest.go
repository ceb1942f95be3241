// Package manifest loads the YAML file that lists the sources to register:
//
//	append: false
//	sources:
//	  orders: [static/data/orders/orders.parquet]
//	  users:  [https://example.com/users.parquet]
//
// Sources keep their document order.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"duckbridge/internal/domain"
)

// Manifest is a parsed sources file.
type Manifest struct {
	Append  bool
	Sources domain.SourceMap
}

type document struct {
	Append  bool      `yaml:"append"`
	Sources yaml.Node `yaml:"sources"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest document. Unknown top-level keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var doc document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	sources, err := decodeSources(&doc.Sources)
	if err != nil {
		return nil, err
	}
	return &Manifest{Append: doc.Append, Sources: sources}, nil
}

func decodeSources(n *yaml.Node) (domain.SourceMap, error) {
	if n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		return domain.SourceMap{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: sources must be a mapping of source name to locations", n.Line)
	}

	out := make(domain.SourceMap, 0, len(n.Content)/2)
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i < len(n.Content)-1; i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		name := key.Value
		if name == "" {
			return nil, fmt.Errorf("line %d: source name is required", key.Line)
		}
		if seen[name] {
			return nil, fmt.Errorf("line %d: duplicate source %q", key.Line, name)
		}
		seen[name] = true

		locations, err := decodeLocations(name, val)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Source{Name: name, Locations: locations})
	}
	return out, nil
}

// decodeLocations accepts a list of locations or a single scalar.
func decodeLocations(source string, n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil, nil
		}
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode || item.Value == "" {
				return nil, fmt.Errorf("line %d: source %q: locations must be non-empty strings", item.Line, source)
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("line %d: source %q: locations must be a list", n.Line, source)
	}
}
