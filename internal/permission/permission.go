// internal/permission/permission.go
package permission

import (
	"github.com/jason-s-yu/gameroom/internal/models"
)

// Capability names a permission as a (domain, name) pair, e.g. godPowers/addBot.
type Capability struct {
	Domain string
	Name   string
}

func (c Capability) String() string { return c.Domain + "/" + c.Name }

// AddBot lets the actor inject bots into a waiting room.
var AddBot = Capability{Domain: "godPowers", Name: "addBot"}

// Gate is the permission collaborator. The room core only consumes its decisions.
type Gate interface {
	Check(domain, name string) bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(domain, name string) bool

func (f GateFunc) Check(domain, name string) bool { return f(domain, name) }

// Allowed asks g about c. A nil gate denies everything.
func Allowed(g Gate, c Capability) bool {
	if g == nil {
		return false
	}
	return g.Check(c.Domain, c.Name)
}

// DefaultTable grants the staff roles the bot capability.
var DefaultTable = map[models.Role][]Capability{
	models.RoleSuperAdmin:    {AddBot},
	models.RoleAdmin:         {AddBot},
	models.RoleDevelopers:    {AddBot},
	models.RoleModerator:     {AddBot},
	models.RoleModeratorTest: {AddBot},
	models.RoleAnimator:      {AddBot},
	models.RolePlayer:        nil,
}

// Static evaluates capabilities for one role from a fixed table.
type Static struct {
	role   models.Role
	grants map[Capability]bool
}

// NewStatic builds a gate for role. A nil table uses DefaultTable.
func NewStatic(role models.Role, table map[models.Role][]Capability) *Static {
	if table == nil {
		table = DefaultTable
	}
	grants := make(map[Capability]bool)
	for _, c := range table[role] {
		grants[c] = true
	}
	return &Static{role: role, grants: grants}
}

// Check implements Gate.
func (s *Static) Check(domain, name string) bool {
	return s.grants[Capability{Domain: domain, Name: name}]
}

// Role returns the role this gate evaluates for.
func (s *Static) Role() models.Role { return s.role }
