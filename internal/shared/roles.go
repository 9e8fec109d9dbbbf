package shared

// Role is the coarse-grained permission level assigned to a user.
type Role string

const (
	// RoleAdmin manages company settings, rules and users.
	RoleAdmin Role = "ADMIN"
	// RoleManager approves expenses for their reports.
	RoleManager Role = "MANAGER"
	// RoleEmployee submits expenses.
	RoleEmployee Role = "EMPLOYEE"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// CanApprove reports whether the role is allowed to process approval tasks.
func (r Role) CanApprove() bool {
	return r == RoleAdmin || r == RoleManager
}
