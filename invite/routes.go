package invite

import (
	"github.com/clinicore/go-session/client"
)

// Post-acceptance landing routes.
const (
	RouteDashboard    = "/dashboard"
	RouteOrganization = "/organization"
	RouteAdmin        = "/admin"
)

// RouteForRole maps an accepted user's role to their landing route. Unknown
// roles get the generic dashboard.
func RouteForRole(role client.Role) string {
	switch role {
	case client.RoleClientAdmin:
		return RouteOrganization
	case client.RoleSuperAdmin:
		return RouteAdmin
	default:
		return RouteDashboard
	}
}
