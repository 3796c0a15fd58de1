package auth

// Role is the account role carried in access tokens
type Role string

const (
	// RoleAdmin may use every conversation
	RoleAdmin Role = "ADMIN"

	// RoleUser may only use its own conversations
	RoleUser Role = "USER"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role has permission for a required role.
// Admin has all permissions.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}
