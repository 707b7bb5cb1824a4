package authstate

// Role is the role string the backend reports on a user profile.
type Role string

const (
	// RoleAdmin gates the admin-only routes. Matching is exact: the role
	// string "Admin" is the sole admin predicate.
	RoleAdmin Role = "Admin"
	// RoleMember is a regular authenticated user.
	RoleMember Role = "Member"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role grants access to admin-gated routes.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// ParseRole safely parses a string into a Role type
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}
