// Package manifest loads route definitions from a YAML file.
//
// A manifest lists routes in registration order:
//
//	routes:
//	  - name: AdminRoute
//	    rule:
//	      kind: allow_roles
//	      roles: [admin]
//	  - name: UsersView
//	    parent: AdminRoute
//	    layouts: [MainLayout]
//
// A route without a rule inherits the rule of its parent. Parent and layout
// references may point at routes defined elsewhere (built-in or stored
// routes), so they are resolved by the route catalog, not here.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/upb/routeguard/internal/access"
	"gopkg.in/yaml.v3"
)

// Manifest is the document root.
type Manifest struct {
	Routes []access.RouteDefinition `yaml:"routes"`
}

// LoadFromFile reads and parses the manifest at path.
func LoadFromFile(path string) (*Manifest, error) {
	path = filepath.Clean(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes a manifest and validates each definition.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest

	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: failed to parse YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks every definition and rejects duplicate names.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Routes))
	for i, def := range m.Routes {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("manifest: routes[%d]: %w", i, err)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("manifest: routes[%d]: duplicate route %s", i, def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	return nil
}
