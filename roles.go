package opspilot

import (
	"fmt"
	"strings"
)

// Role is derived from the team record and never stored
type Role string

const (
	// RoleManager manages a team and reads its summaries
	RoleManager Role = "manager"
	// RoleMember submits daily updates
	RoleMember Role = "member"
)

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleManager, RoleMember:
		return true
	default:
		return false
	}
}

// ParseRole converts a raw value into a Role
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.IsValid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// DeriveRole returns RoleManager when member's email is the team's
// manager email. A missing team or member yields RoleMember.
func DeriveRole(team *Team, member *Member) Role {
	if team == nil || member == nil {
		return RoleMember
	}

	if EmailsMatch(team.ManagerEmail, member.Email) {
		return RoleManager
	}

	return RoleMember
}
