package domain

import "fmt"

// Role is the closed set of participant roles. Authorization decisions are
// made exhaustively against this enum, never against free-form strings.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole validates a client-supplied role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleEditor, RoleViewer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// CanEditCode reports whether a participant with this role may mutate the
// shared code buffer or trigger execution.
func (r Role) CanEditCode() bool {
	return r == RoleOwner || r == RoleEditor
}

// CanChangeRoles reports whether a participant with this role may reassign
// other participants' roles.
func (r Role) CanChangeRoles() bool {
	return r == RoleOwner
}

func (r Role) String() string { return string(r) }
