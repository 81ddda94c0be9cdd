package enums

import "fmt"

// MemberRole is the role carried by an authenticated principal.
type MemberRole string

const (
	MemberRoleViewer  MemberRole = "viewer"
	MemberRoleClerk   MemberRole = "clerk"
	MemberRoleManager MemberRole = "manager"
	MemberRoleAdmin   MemberRole = "admin"
)

func (r MemberRole) IsValid() bool {
	switch r {
	case MemberRoleViewer, MemberRoleClerk, MemberRoleManager, MemberRoleAdmin:
		return true
	}
	return false
}

func ParseMemberRole(value string) (MemberRole, error) {
	role := MemberRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid member role %q", value)
	}
	return role, nil
}
