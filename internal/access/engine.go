package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver decides whether a principal may access a registered route.
type Resolver struct {
	routes RouteLookup
}

// NewResolver creates a Resolver over routes. The lookup must not change
// while the Resolver is in use.
func NewResolver(routes RouteLookup) *Resolver {
	return &Resolver{routes: routes}
}

// Evaluate resolves the rule of route and evaluates it for p. The error is
// non-nil only when the route is misconfigured; rejections are reported in
// the Decision.
func (r *Resolver) Evaluate(p Principal, route string) (Decision, error) {
	return r.evaluate(p, route, route)
}

// Check returns nil when p may access route, a *RejectedError when it may
// not, and a *MisconfiguredError when no rule applies.
func (r *Resolver) Check(p Principal, route string) error {
	decision, err := r.Evaluate(p, route)
	if err != nil {
		return err
	}
	return decision.Err()
}

// EvaluateNavigation checks route and then each of its layouts in order.
// The first rejected decision is returned; otherwise the route's own decision.
func (r *Resolver) EvaluateNavigation(p Principal, route string) (Decision, error) {
	decision, err := r.Evaluate(p, route)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	def, _ := r.routes.Lookup(route)
	for _, layout := range def.Layouts {
		layoutDecision, err := r.evaluate(p, route, layout)
		if err != nil {
			return layoutDecision, err
		}
		if !layoutDecision.Allowed {
			return layoutDecision, nil
		}
	}
	return decision, nil
}

// CheckNavigation is Check extended to the layouts wrapping route.
func (r *Resolver) CheckNavigation(p Principal, route string) error {
	decision, err := r.EvaluateNavigation(p, route)
	if err != nil {
		return err
	}
	return decision.Err()
}

// CheckCurrentUser snapshots the caller from users and checks route.
func (r *Resolver) CheckCurrentUser(ctx context.Context, users UserResolver, route string) error {
	return r.Check(CurrentPrincipal(ctx, users), route)
}

func (r *Resolver) evaluate(p Principal, route, target string) (Decision, error) {
	rule, source, err := ResolveRule(r.routes, target)
	if err != nil {
		var mis *MisconfiguredError
		if target != route && errors.As(err, &mis) {
			mis.Reason = fmt.Sprintf("layout of %s: %s", route, mis.Reason)
		}
		return Decision{Route: route, Target: target}, err
	}
	decision := EvaluateRule(rule, p, route, target)
	decision.RuleSource = source
	return decision, nil
}

// EvaluateRule applies rule to p. route names the navigation target and
// target the view whose rule is evaluated; both appear in the reason.
func EvaluateRule(rule Rule, p Principal, route, target string) Decision {
	decision := Decision{Allowed: true, Route: route, Target: target, Rule: rule}

	switch rule.Kind {
	case RuleAllowAll:
		return decision
	case RuleAllowAllUsers:
		if !p.LoggedIn {
			return reject(decision, "Cannot access %s, you're not logged in", target)
		}
		return decision
	case RuleAllowRoles:
		switch {
		case !p.LoggedIn:
			return reject(decision, "Cannot access %s, you're not logged in", target)
		case len(rule.Roles) == 0:
			return reject(decision, "Cannot access %s, nobody can access it", target)
		case !p.HasAnyRole(rule.Roles):
			return reject(decision, "Can not access %s, you are not %s", target, strings.Join(dedupe(rule.Roles), " or "))
		}
		return decision
	}

	return reject(decision, "Cannot access %s, unknown rule %q", target, rule.Kind)
}

func reject(d Decision, format string, args ...any) Decision {
	d.Allowed = false
	d.Reason = fmt.Sprintf("Route %s: ", d.Route) + fmt.Sprintf(format, args...)
	return d
}
