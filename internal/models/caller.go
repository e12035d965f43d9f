package models

import "fmt"

// Role is the capability a caller acts with.
type Role string

const (
	RoleOwner      Role = "Owner"
	RoleOperator   Role = "Operator"
	RoleBackoffice Role = "Backoffice"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleOperator, RoleBackoffice:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   string
	Role Role
}
