package shared

import "fmt"

// Role is the closed set of principals known to the pharmacy.
type Role string

const (
	RoleIPP          Role = "ipp"
	RoleDispensary   Role = "dispensary"
	RoleOther        Role = "other"
	RoleAdmin        Role = "admin"
	RoleStoreOfficer Role = "store_officer"
	RoleSuperAdmin   Role = "super_admin"
)

// AllRoles lists every role in display order.
var AllRoles = []Role{RoleIPP, RoleDispensary, RoleOther, RoleAdmin, RoleStoreOfficer, RoleSuperAdmin}

// ParseRole converts a stored or client-supplied role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", Validationf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleIPP, RoleDispensary, RoleOther, RoleAdmin, RoleStoreOfficer, RoleSuperAdmin:
		return true
	}
	return false
}

// SellsFromDelegation reports whether sales by r draw down r's delegated balance
// rather than central stock.
func (r Role) SellsFromDelegation() bool {
	switch r {
	case RoleIPP, RoleDispensary:
		return true
	case RoleOther, RoleAdmin, RoleStoreOfficer, RoleSuperAdmin:
		return false
	}
	return false
}

// ReceivesDelegation reports whether stock may be delegated to r.
func (r Role) ReceivesDelegation() bool {
	switch r {
	case RoleIPP, RoleDispensary, RoleOther:
		return true
	case RoleAdmin, RoleStoreOfficer, RoleSuperAdmin:
		return false
	}
	return false
}

// ReceivesNotifications reports whether delegations to r raise a notification.
func (r Role) ReceivesNotifications() bool {
	switch r {
	case RoleIPP, RoleDispensary:
		return true
	case RoleOther, RoleAdmin, RoleStoreOfficer, RoleSuperAdmin:
		return false
	}
	return false
}

// ManagesStock reports whether r may create medicines, delegate and reclaim stock.
func (r Role) ManagesStock() bool {
	switch r {
	case RoleAdmin, RoleStoreOfficer, RoleSuperAdmin:
		return true
	case RoleIPP, RoleDispensary, RoleOther:
		return false
	}
	return false
}

// Label is the human readable role name used in notification messages.
func (r Role) Label() string {
	switch r {
	case RoleIPP:
		return "IPP"
	case RoleDispensary:
		return "Dispensary"
	case RoleOther:
		return "Other"
	case RoleAdmin:
		return "Admin"
	case RoleStoreOfficer:
		return "Store Officer"
	case RoleSuperAdmin:
		return "Super Admin"
	}
	return fmt.Sprintf("Role(%s)", string(r))
}
