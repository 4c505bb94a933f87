package access

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// RouteDefinition registers a route with the resolver.
// A nil Rule means the route inherits the rule of Parent.
type RouteDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Parent      string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Rule        *Rule    `json:"rule,omitempty" yaml:"rule,omitempty"`
	Layouts     []string `json:"layouts,omitempty" yaml:"layouts,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks the definition in isolation. Parent and layout references
// are checked by Registry.Validate.
func (d RouteDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("route name is required")
	}
	if d.Parent == d.Name {
		return fmt.Errorf("route %s cannot be its own parent", d.Name)
	}
	if d.Rule != nil {
		if err := d.Rule.Validate(); err != nil {
			return fmt.Errorf("route %s: %w", d.Name, err)
		}
	}
	for _, layout := range d.Layouts {
		if strings.TrimSpace(layout) == "" {
			return fmt.Errorf("route %s: layout names must not be blank", d.Name)
		}
		if layout == d.Name {
			return fmt.Errorf("route %s cannot be its own layout", d.Name)
		}
	}
	return nil
}

// Clone returns a deep copy of the definition.
func (d RouteDefinition) Clone() RouteDefinition {
	out := d
	if d.Rule != nil {
		rule := cloneRule(*d.Rule)
		out.Rule = &rule
	}
	out.Layouts = slices.Clone(d.Layouts)
	return out
}

// Normalized returns a deep copy of the definition with its rule normalized.
func (d RouteDefinition) Normalized() RouteDefinition {
	out := d.Clone()
	if out.Rule != nil {
		rule := out.Rule.Normalized()
		out.Rule = &rule
	}
	return out
}

// RouteLookup finds route definitions by name.
type RouteLookup interface {
	Lookup(name string) (RouteDefinition, bool)
}

// Registry is an immutable set of route definitions.
type Registry struct {
	routes map[string]RouteDefinition
	order  []string
}

// NewRegistry registers defs in order. Duplicate names are an error.
func NewRegistry(defs ...RouteDefinition) (*Registry, error) {
	b := NewRegistryBuilder()
	for _, def := range defs {
		if err := b.Register(def); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// MustRegistry is NewRegistry for static route tables.
func MustRegistry(defs ...RouteDefinition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup implements RouteLookup.
func (r *Registry) Lookup(name string) (RouteDefinition, bool) {
	def, ok := r.routes[name]
	if !ok {
		return RouteDefinition{}, false
	}
	return def.Clone(), true
}

// Names returns route names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Definitions returns copies of all definitions in registration order.
func (r *Registry) Definitions() []RouteDefinition {
	out := make([]RouteDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.routes[name].Clone())
	}
	return out
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	return len(r.order)
}

// Validate reports every route whose rule cannot be resolved or whose
// layouts are not registered.
func (r *Registry) Validate() error {
	return ValidateRoutes(r, r.order)
}

// ValidateRoutes checks names against lookup and joins all failures.
func ValidateRoutes(lookup RouteLookup, names []string) error {
	var errs []error
	for _, name := range names {
		if _, _, err := ResolveRule(lookup, name); err != nil {
			errs = append(errs, err)
			continue
		}
		def, _ := lookup.Lookup(name)
		for _, layout := range def.Layouts {
			if _, ok := lookup.Lookup(layout); !ok {
				errs = append(errs, misconfigured(name, "layout %q is not registered", layout))
			}
		}
	}
	return errors.Join(errs...)
}

// RegistryBuilder collects definitions for a Registry.
type RegistryBuilder struct {
	routes map[string]RouteDefinition
	order  []string
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{routes: make(map[string]RouteDefinition)}
}

// Register adds def. The builder keeps its own copy.
func (b *RegistryBuilder) Register(def RouteDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := b.routes[def.Name]; exists {
		return fmt.Errorf("route %s is already registered", def.Name)
	}
	b.routes[def.Name] = def.Normalized()
	b.order = append(b.order, def.Name)
	return nil
}

// Has reports whether name was registered.
func (b *RegistryBuilder) Has(name string) bool {
	_, ok := b.routes[name]
	return ok
}

// Build freezes the registered definitions.
func (b *RegistryBuilder) Build() *Registry {
	routes := make(map[string]RouteDefinition, len(b.routes))
	for name, def := range b.routes {
		routes[name] = def.Clone()
	}
	return &Registry{routes: routes, order: slices.Clone(b.order)}
}

// ResolveRule walks the parent chain of name and returns the nearest declared
// rule together with the route that declared it.
func ResolveRule(lookup RouteLookup, name string) (Rule, string, error) {
	seen := make(map[string]struct{})
	current, child := name, ""
	for {
		def, ok := lookup.Lookup(current)
		if !ok {
			if child == "" {
				return Rule{}, "", misconfigured(name, "route is not registered")
			}
			return Rule{}, "", misconfigured(name, "parent %q of %q is not registered", current, child)
		}
		if _, loop := seen[current]; loop {
			return Rule{}, "", misconfigured(name, "parent cycle through %q", current)
		}
		seen[current] = struct{}{}

		if def.Rule != nil {
			if err := def.Rule.Validate(); err != nil {
				return Rule{}, "", misconfigured(name, "invalid rule on %q: %v", current, err)
			}
			return cloneRule(*def.Rule), current, nil
		}
		if def.Parent == "" {
			return Rule{}, "", misconfigured(name, "no access rule declared on the route or its parents")
		}
		child, current = current, def.Parent
	}
}

func cloneRule(r Rule) Rule {
	r.Roles = slices.Clone(r.Roles)
	return r
}
