// Package rbac authorizes requests by the caller's role.
package rbac

import "github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"

// Role groups used by route guards.
var (
	// Sellers may record sales and returns.
	Sellers = shared.AllRoles
	// Reversers may delete a recorded return.
	Reversers = []shared.Role{shared.RoleAdmin, shared.RoleSuperAdmin}
	// DelegationViewers may list delegations and restore delegated stock.
	DelegationViewers = []shared.Role{
		shared.RoleIPP, shared.RoleDispensary, shared.RoleOther,
		shared.RoleAdmin, shared.RoleStoreOfficer, shared.RoleSuperAdmin,
	}
)
