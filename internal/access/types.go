package access

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// RuleKind identifies one of the supported access rules.
type RuleKind string

const (
	RuleAllowAll      RuleKind = "allow_all"
	RuleAllowRoles    RuleKind = "allow_roles"
	RuleAllowAllUsers RuleKind = "allow_all_users"
)

// Valid reports whether k is a known rule kind.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleAllowAll, RuleAllowRoles, RuleAllowAllUsers:
		return true
	}
	return false
}

// Rule is the declarative access policy attached to a route.
// Roles is only meaningful for RuleAllowRoles and keeps declaration order.
type Rule struct {
	Kind  RuleKind `json:"kind" yaml:"kind"`
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// AllowAll admits every caller.
func AllowAll() Rule {
	return Rule{Kind: RuleAllowAll}
}

// AllowRoles admits logged-in callers holding at least one of roles.
// Called without roles it admits nobody.
func AllowRoles(roles ...string) Rule {
	return Rule{Kind: RuleAllowRoles, Roles: dedupe(roles)}
}

// AllowAllUsers admits every logged-in caller.
func AllowAllUsers() Rule {
	return Rule{Kind: RuleAllowAllUsers}
}

// Validate checks the rule kind and role names.
func (r Rule) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	if r.Kind != RuleAllowRoles && len(r.Roles) > 0 {
		return fmt.Errorf("rule kind %q does not take roles", r.Kind)
	}
	for _, role := range r.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("role names must not be blank")
		}
	}
	return nil
}

// Normalized returns a copy of r with duplicate roles dropped, keeping the
// first occurrence of each.
func (r Rule) Normalized() Rule {
	r.Roles = dedupe(r.Roles)
	return r
}

func (r Rule) String() string {
	if r.Kind == RuleAllowRoles {
		return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(r.Roles, ","))
	}
	return string(r.Kind)
}

// Principal is a snapshot of the caller taken before evaluation.
type Principal struct {
	LoggedIn bool     `json:"logged_in"`
	Roles    []string `json:"roles"`
}

// Anonymous returns a logged-out principal.
func Anonymous() Principal {
	return Principal{}
}

// User returns a logged-in principal with the given roles.
func User(roles ...string) Principal {
	return Principal{LoggedIn: true, Roles: roles}
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p Principal) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating a rule for one target.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	// Route is the navigation target the check was made for.
	Route string `json:"route"`
	// Target is the route or layout whose rule was evaluated.
	Target string `json:"target"`
	// RuleSource is the route in the parent chain that declared the rule.
	RuleSource string `json:"rule_source,omitempty"`
	Rule       Rule   `json:"rule"`
}

// Err converts a rejected decision into a *RejectedError, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RejectedError{Route: d.Route, Target: d.Target, Reason: d.Reason}
}

// UserResolver exposes the identity of the current caller.
type UserResolver interface {
	IsLoggedIn(ctx context.Context) bool
	CurrentUserRoles(ctx context.Context) []string
}

// CurrentPrincipal takes a Principal snapshot from resolver.
// Roles of a logged-out caller are ignored.
func CurrentPrincipal(ctx context.Context, resolver UserResolver) Principal {
	if resolver == nil || !resolver.IsLoggedIn(ctx) {
		return Anonymous()
	}
	return User(resolver.CurrentUserRoles(ctx)...)
}

// StaticUserResolver is a UserResolver with fixed answers. A nil Roles slice
// means logged out, an empty non-nil slice means logged in without roles.
type StaticUserResolver struct {
	Roles []string
}

func (s StaticUserResolver) IsLoggedIn(context.Context) bool {
	return s.Roles != nil
}

func (s StaticUserResolver) CurrentUserRoles(context.Context) []string {
	if s.Roles == nil {
		return []string{}
	}
	return s.Roles
}

func dedupe(roles []string) []string {
	if roles == nil {
		return nil
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}
