// Package access provides the route access decision resolver for routeguard.
//
// Every route is registered explicitly with a RouteDefinition. A definition
// either declares its own Rule or leaves it nil and inherits the rule of its
// Parent route. Three rule kinds exist:
//   - AllowAll: anyone, logged in or not
//   - AllowRoles: logged-in callers holding at least one of the listed roles;
//     an empty role list admits nobody
//   - AllowAllUsers: any logged-in caller, with or without roles
//
// The Resolver walks the parent chain of the queried route, picks the nearest
// declared rule and evaluates it against a Principal snapshot. A rejection is
// reported as a *RejectedError whose reason always names the queried route,
// never the ancestor that supplied the rule. A route whose chain carries no
// rule at all, or whose chain cannot be walked, is reported as a
// *MisconfiguredError so that deployment defects never look like ordinary
// denials.
//
// Evaluation is pure: the Resolver holds only an immutable route lookup and
// can be shared freely between request goroutines.
package access
