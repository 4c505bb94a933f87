package routes

import "github.com/upb/routeguard/internal/access"

// Built-in route names. They guard the service's own endpoints and are
// reserved: the catalog refuses to store routes under these names.
const (
	PublicRoute        = "PublicRoute"
	MetricsRoute       = "MetricsRoute"
	AccessCheckRoute   = "AccessCheckRoute"
	CurrentAccessRoute = "CurrentAccessRoute"
	ApiRoute           = "ApiRoute"
	StatusRoute        = "StatusRoute"
	RouteCatalogRoute  = "RouteCatalogRoute"
	AdminRoute         = "AdminRoute"
	RouteAdminRoute    = "RouteAdminRoute"
	AuditLogRoute      = "AuditLogRoute"
)

// AdminRole is the role required by AdminRoute and its children
const AdminRole = "admin"

// BuiltinRoutes returns the routes guarding the HTTP API. Stored and
// manifest routes may use them as parents or layouts.
func BuiltinRoutes() []access.RouteDefinition {
	allowAll := access.AllowAll()
	allowUsers := access.AllowAllUsers()
	allowAdmins := access.AllowRoles(AdminRole)

	return []access.RouteDefinition{
		{Name: PublicRoute, Rule: &allowAll, Description: "endpoints open to every caller"},
		{Name: MetricsRoute, Parent: PublicRoute, Description: "Prometheus metrics"},
		{Name: AccessCheckRoute, Parent: PublicRoute, Description: "decide access for an explicit principal"},
		{Name: CurrentAccessRoute, Parent: PublicRoute, Description: "decide access for the calling user"},
		{Name: ApiRoute, Rule: &allowUsers, Description: "endpoints for logged-in users"},
		{Name: StatusRoute, Parent: ApiRoute, Description: "runtime statistics"},
		{Name: RouteCatalogRoute, Parent: ApiRoute, Description: "read the route catalog"},
		{Name: AdminRoute, Rule: &allowAdmins, Description: "administration endpoints"},
		{Name: RouteAdminRoute, Parent: AdminRoute, Description: "change the route catalog"},
		{Name: AuditLogRoute, Parent: AdminRoute, Description: "read the access audit trail"},
	}
}
