package models

import (
	"slices"
	"time"

	"github.com/upb/routeguard/internal/access"
)

// Route is a stored route definition. A nil RuleKind means the route
// inherits its rule from Parent.
type Route struct {
	Name        string    `json:"name" db:"name"`
	Parent      *string   `json:"parent,omitempty" db:"parent"`
	RuleKind    *string   `json:"rule_kind,omitempty" db:"rule_kind"`
	Roles       []string  `json:"roles,omitempty" db:"roles"`
	Layouts     []string  `json:"layouts,omitempty" db:"layouts"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Route model
func (Route) TableName() string {
	return "routes"
}

// NewRoute creates a Route from a definition
func NewRoute(def access.RouteDefinition) *Route {
	now := time.Now()
	route := &Route{
		Name:        def.Name,
		Layouts:     slices.Clone(def.Layouts),
		Description: def.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if def.Parent != "" {
		parent := def.Parent
		route.Parent = &parent
	}
	if def.Rule != nil {
		kind := string(def.Rule.Kind)
		route.RuleKind = &kind
		route.Roles = slices.Clone(def.Rule.Roles)
	}
	return route
}

// Definition converts the stored row back into a route definition
func (r *Route) Definition() access.RouteDefinition {
	def := access.RouteDefinition{
		Name:        r.Name,
		Layouts:     slices.Clone(r.Layouts),
		Description: r.Description,
	}
	if r.Parent != nil {
		def.Parent = *r.Parent
	}
	if r.RuleKind != nil {
		rule := access.Rule{
			Kind:  access.RuleKind(*r.RuleKind),
			Roles: slices.Clone(r.Roles),
		}.Normalized()
		def.Rule = &rule
	}
	return def
}
