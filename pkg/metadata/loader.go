package metadata

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a catalog file and builds a registry from it. JSON catalogs
// are accepted since YAML is a superset of JSON.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	reg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return reg, nil
}

// Load parses, schema-checks and builds a registry from catalog bytes.
func Load(data []byte) (*Registry, error) {
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(*cat)
}

// ParseCatalog decodes and schema-checks a catalog without building a registry.
func ParseCatalog(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &cat, nil
}

// MarshalCatalog renders a catalog as YAML.
func MarshalCatalog(cat *Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cat); err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Catalog returns the registry contents for inspection and export. The
// attribute and navigation maps are shared with the registry.
func (r *Registry) Catalog() *Catalog {
	cat := &Catalog{
		Entities: make(map[string]EntityMetadata),
		Actions:  make(map[string]ActionMetadata),
	}
	if r == nil {
		return cat
	}
	for name, md := range r.entities {
		cat.Entities[name] = *md
	}
	for name, md := range r.actions {
		cat.Actions[name] = *md
	}
	return cat
}
