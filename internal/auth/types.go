package auth

import "errors"

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleOperator is a standard user: device control, overrides on
	// their own behalf, read access to history.
	RoleOperator Role = "operator"

	// RoleAdmin has full control: any override may be revoked,
	// emergency shutdown and clear-all are permitted.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of valid account roles.
var ValidRoles = []Role{RoleOperator, RoleAdmin}

// IsValidRole returns true if the role is recognised.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
