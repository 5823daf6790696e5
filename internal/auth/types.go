package auth

import (
	"errors"
	"slices"
)

// Role is an authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read devices, properties and history.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally write property values.
	RoleOperator Role = "operator"

	// RoleAdmin may additionally pair, unpair, discover and clear devices.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(ValidRoles, r)
}

// Auth errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrNoSecret     = errors.New("auth: signing secret not configured")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
