package rbac

import "fmt"

// Role names. Keep these stable; they are part of auth/RBAC contracts and
// appear verbatim in issued tokens.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleSuperInstructor Role = "SUPER_INSTRUCTOR"
	RoleInstructor      Role = "INSTRUCTOR"
	RoleLearner         Role = "LEARNER"
)

var allRoles = []Role{RoleAdmin, RoleSuperInstructor, RoleInstructor, RoleLearner}

// Roles returns every known role.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// RoleNames returns the known roles as plain strings, for token validation.
func RoleNames() []string {
	out := make([]string, 0, len(allRoles))
	for _, r := range allRoles {
		out = append(out, string(r))
	}
	return out
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSuperInstructor, RoleInstructor, RoleLearner:
		return true
	default:
		return false
	}
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("rbac: unknown role %q", s)
	}
	return r, nil
}

// IsAdmin reports whether the role is tenant-global.
func IsAdmin(r Role) bool { return r == RoleAdmin }

// HasRole reports whether r is one of allowed. An empty allowed list permits any role.
func HasRole(r Role, allowed ...Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == r {
			return true
		}
	}
	return false
}

// LandingRoute is where a role is sent when it hits a page it may not see.
func LandingRoute(r Role) string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleSuperInstructor:
		return "/super-instructor"
	case RoleInstructor:
		return "/instructor"
	case RoleLearner:
		return "/learner"
	default:
		return "/login"
	}
}
