package shared

import "strings"

// RoleKind is the closed set of roles the system recognises. Free-text role
// names from the users table are mapped to a RoleKind exactly once, when the
// actor is authenticated, and never re-derived inside core operations.
type RoleKind string

const (
	RoleProcurement RoleKind = "PROCUREMENT"
	RoleWarehouse   RoleKind = "WAREHOUSE"
	RoleLogistics   RoleKind = "LOGISTICS"
	RoleBranch      RoleKind = "BRANCH"
	RoleIT          RoleKind = "IT"
	RoleUnknown     RoleKind = "UNKNOWN"
)

// ResolveRoleKind maps a free-text role name to a RoleKind. Precedence
// matters: a name containing "procurement" or "warehouse" is never treated as
// a restricted branch role even when it also contains "branch".
func ResolveRoleKind(name string) RoleKind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "procurement"):
		return RoleProcurement
	case strings.Contains(n, "warehouse"):
		return RoleWarehouse
	case strings.Contains(n, "logistics"):
		return RoleLogistics
	case strings.Contains(n, "it"):
		return RoleIT
	case strings.Contains(n, "branch"):
		return RoleBranch
	default:
		return RoleUnknown
	}
}

// Actor is the capability context passed into every core operation. It is
// resolved at authentication time from the user's role and branch assignments.
type Actor struct {
	UserID    int64
	FullName  string
	Email     string
	Role      RoleKind
	BranchIDs []int64
}

// CanApproveRequests reports whether the actor may approve or reject branch requests.
func (a Actor) CanApproveRequests() bool {
	return a.Role == RoleProcurement || a.Role == RoleIT
}

// CanFulfill reports whether the actor may perform warehouse stock operations.
func (a Actor) CanFulfill() bool {
	return a.Role == RoleWarehouse || a.Role == RoleIT
}

// CanDispatch reports whether the actor may mark requests out for delivery.
func (a Actor) CanDispatch() bool {
	return a.Role == RoleLogistics || a.Role == RoleIT
}

// CanPlaceOrders reports whether the actor may place supplier orders and
// manage item requests. Warehouse staff are excluded from the supplier side.
func (a Actor) CanPlaceOrders() bool {
	return a.Role == RoleProcurement || a.Role == RoleIT
}

// CanManageCatalog reports whether the actor may create or edit master data.
func (a Actor) CanManageCatalog() bool {
	return a.Role == RoleProcurement || a.Role == RoleIT
}

// IsBranchUser reports whether the actor is a restricted branch-side user.
func (a Actor) IsBranchUser() bool {
	return a.Role == RoleBranch
}

// ManagesBranch reports whether the actor is assigned to the given branch.
// Procurement and IT manage every branch.
func (a Actor) ManagesBranch(branchID int64) bool {
	if a.Role == RoleProcurement || a.Role == RoleIT {
		return true
	}
	for _, id := range a.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}
