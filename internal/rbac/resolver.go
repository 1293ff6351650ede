package rbac

// Subject is everything the resolver needs to know about a user.
// Defaults of the active role and of every assigned role are merged.
type Subject struct {
	ActiveRole Role
	Roles      []Role
	Overrides  Overrides
}

// Resolver computes effective permissions. It holds no per-user state.
type Resolver struct {
	defaults map[Role]Set
}

// NewResolver builds a resolver over the given role bundles.
func NewResolver(bundles map[Role][]Permission) *Resolver {
	d := make(map[Role]Set, len(bundles))
	for role, perms := range bundles {
		d[role] = NewSet(perms...)
	}
	return &Resolver{defaults: d}
}

// DefaultResolver uses DefaultRolePermissions.
func DefaultResolver() *Resolver {
	return NewResolver(DefaultRolePermissions)
}

// Resolve returns (defaults of ActiveRole and Roles ∪ grants) minus denies.
// Denies apply to every role, ADMIN included.
func (r *Resolver) Resolve(s Subject) Set {
	out := make(Set, len(r.defaults[s.ActiveRole])+len(s.Overrides.Grants))
	for p := range r.defaults[s.ActiveRole] {
		out[p] = struct{}{}
	}
	for _, role := range s.Roles {
		for p := range r.defaults[role] {
			out[p] = struct{}{}
		}
	}
	for p := range s.Overrides.Grants {
		out[p] = struct{}{}
	}
	for p := range s.Overrides.Denies {
		delete(out, p)
	}
	return out
}

// Can is a convenience for a single check.
func (r *Resolver) Can(s Subject, p Permission) bool {
	return r.Resolve(s).Has(p)
}
