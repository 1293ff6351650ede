package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Permission is a capability string of the form resource:action[:sub].
type Permission string

var permissionPattern = regexp.MustCompile(`^[a-z_]+(:[a-z_]+){1,2}$`)

var ErrInvalidPermission = errors.New("rbac: invalid permission")

// ParsePermission validates the permission format. It does not require the
// permission to be registered; tenants may carry grants for newer features.
func ParsePermission(s string) (Permission, error) {
	if !permissionPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	return Permission(s), nil
}

// All permissions known to the platform.
var AllPermissions = []Permission{
	"course:read", "course:create", "course:update", "course:update_any", "course:publish", "course:delete", "course:delete_any",
	"unit:read", "unit:create", "unit:update", "unit:update_any", "unit:publish", "unit:delete", "unit:delete_any",
	"learning_path:read", "learning_path:create", "learning_path:update", "learning_path:delete",
	"user:read", "user:create", "user:update", "user:delete", "user:assign_role", "user:assign_permission", "user:impersonate",
	"user_types:read",
	"group:read", "group:create", "group:update", "group:delete",
	"branches:read", "branches:create", "branches:update", "branches:delete",
	"dashboard:read",
	"assignment:read", "assignment:create", "assignment:update", "assignment:delete", "assignment:assign",
	"submission:read", "submission:grade", "submission:publish", "submission:download", "submission:create",
	"reports:read", "reports:export",
	"calendar:read", "calendar:create", "calendar:update", "calendar:delete",
	"conference:read", "conference:create", "conference:update", "conference:delete",
	"skills:read", "skills:update", "skills:create", "skills:delete",
	"automations:read", "automations:create", "automations:update", "automations:delete",
	"notifications:read", "notifications:create", "notifications:update", "notifications:delete",
	"security:sessions:read", "security:sessions:revoke", "security:audit:read",
	"certificate:template:read", "certificate:template:create", "certificate:template:update", "certificate:template:delete",
	"certificate:issue:read", "certificate:issue:create", "certificate:view_own",
	"roles:read", "permissions:read", "organization:read",
}

// Permissions referenced by the auth surface itself.
const (
	PermSessionsRead    Permission = "security:sessions:read"
	PermSessionsRevoke  Permission = "security:sessions:revoke"
	PermAuditRead       Permission = "security:audit:read"
	PermPermissionsRead Permission = "permissions:read"
)

// DefaultRolePermissions is the default bundle per role.
var DefaultRolePermissions = map[Role][]Permission{
	RoleAdmin: AllPermissions,
	RoleSuperInstructor: {
		"dashboard:read",
		"course:read", "course:create", "course:update", "course:update_any", "course:publish", "course:delete",
		"unit:read", "unit:create", "unit:update", "unit:update_any", "unit:publish", "unit:delete",
		"learning_path:read", "learning_path:create", "learning_path:update", "learning_path:delete",
		"group:read", "group:create", "group:update", "group:delete",
		"user:read", "user:create", "user:update", "user:delete",
		"assignment:read", "assignment:create", "assignment:update", "assignment:delete", "assignment:assign",
		"submission:read", "submission:grade", "submission:publish", "submission:download",
		"reports:read", "reports:export",
		"calendar:read", "calendar:create", "calendar:update", "calendar:delete",
		"conference:read", "conference:create", "conference:update", "conference:delete",
		"skills:read", "skills:update", "skills:create", "skills:delete",
		"certificate:template:read", "certificate:template:create", "certificate:template:update", "certificate:template:delete",
		"certificate:issue:read",
	},
	RoleInstructor: {
		"dashboard:read",
		"course:read", "course:create", "course:update", "course:publish",
		"unit:read", "unit:create", "unit:update", "unit:publish", "unit:delete",
		"learning_path:read", "learning_path:create", "learning_path:update",
		"group:read", "group:create", "group:update", "group:delete",
		"user:read",
		"assignment:read", "assignment:create", "assignment:update", "assignment:delete", "assignment:assign",
		"submission:read", "submission:grade", "submission:publish", "submission:download",
		"reports:read",
		"calendar:read", "calendar:create", "calendar:update", "calendar:delete",
		"conference:read", "conference:create", "conference:update", "conference:delete",
		"skills:read",
		"certificate:template:read", "certificate:issue:read",
	},
	RoleLearner: {
		"course:read",
		"unit:read",
		"learning_path:read",
		"assignment:read",
		"submission:read", "submission:create",
		"calendar:read",
		"skills:read",
		"certificate:view_own",
	},
}

// Set is an unordered permission set.
type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAny reports whether any of perms is present. An empty list is satisfied.
func (s Set) HasAny(perms ...Permission) bool {
	if len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// Sorted returns the set as a stable, sorted slice.
func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Overrides are per-user adjustments on top of role defaults.
// Denies always win.
type Overrides struct {
	Grants Set
	Denies Set
}

type overridesJSON struct {
	Grants []string `json:"grants"`
	Denies []string `json:"denies"`
}

var ErrInvalidOverrides = errors.New("rbac: invalid overrides")

// ParseOverrides decodes the stored JSON form. A null or empty document yields
// empty overrides; any malformed permission rejects the whole document.
func ParseOverrides(raw []byte) (Overrides, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Overrides{}, nil
	}
	var doc overridesJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Overrides{}, fmt.Errorf("%w: %v", ErrInvalidOverrides, err)
	}
	grants, err := parseList(doc.Grants)
	if err != nil {
		return Overrides{}, fmt.Errorf("%w: grants: %v", ErrInvalidOverrides, err)
	}
	denies, err := parseList(doc.Denies)
	if err != nil {
		return Overrides{}, fmt.Errorf("%w: denies: %v", ErrInvalidOverrides, err)
	}
	return Overrides{Grants: grants, Denies: denies}, nil
}

// MarshalJSON writes the stored form with sorted lists.
func (o Overrides) MarshalJSON() ([]byte, error) {
	doc := overridesJSON{Grants: []string{}, Denies: []string{}}
	for _, p := range o.Grants.Sorted() {
		doc.Grants = append(doc.Grants, string(p))
	}
	for _, p := range o.Denies.Sorted() {
		doc.Denies = append(doc.Denies, string(p))
	}
	return json.Marshal(doc)
}

func parseList(in []string) (Set, error) {
	s := make(Set, len(in))
	for _, raw := range in {
		p, err := ParsePermission(raw)
		if err != nil {
			return nil, err
		}
		s[p] = struct{}{}
	}
	return s, nil
}
