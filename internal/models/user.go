package models

import "fmt"

// Role is the closed set of account roles the permission collaborator understands.
type Role string

const (
	RoleSuperAdmin    Role = "SuperAdmin"
	RoleAdmin         Role = "Admin"
	RoleDevelopers    Role = "Developers"
	RoleModerator     Role = "Moderator"
	RoleModeratorTest Role = "ModeratorTest"
	RoleAnimator      Role = "Animator"
	RolePlayer        Role = "Player"
)

var knownRoles = map[Role]bool{
	RoleSuperAdmin:    true,
	RoleAdmin:         true,
	RoleDevelopers:    true,
	RoleModerator:     true,
	RoleModeratorTest: true,
	RoleAnimator:      true,
	RolePlayer:        true,
}

// ParseRole maps a role string from a token onto the closed role set.
// An empty role is treated as a plain player.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RolePlayer, nil
	}
	r := Role(s)
	if !knownRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor is the identity of the user running this client.
type Actor struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
}
