package permission

import (
	"context"
	"errors"
)

// DefaultRules is the bundled rule set. Order matters: within a role the
// first matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "admin:all", Resource: ResourceAny, Operation: OpAny,
			Description: "administrators may do anything"},
		{ID: "standard:read:all", Resource: ResourceAny, Operation: OpRead,
			Description: "standard users may read any resource"},
		{ID: "standard:music:all", Resource: ResourceMusic, Operation: OpAny,
			Description: "standard users have full access to music"},
		{ID: "readonly:read:all", Resource: ResourceAny, Operation: OpRead,
			Description: "read-only users may read any resource"},
		{ID: "guest:music:read", Resource: ResourceMusic, Operation: OpRead,
			Description: "guests may read music endpoints"},
	}
}

// DefaultRoles is the bundled role set.
func DefaultRoles() []Role {
	return []Role{
		{ID: "admin", Name: "Administrator",
			Description: "full access to every resource",
			Permissions: []string{"admin:all"}},
		{ID: "standard", Name: "Standard user",
			Description: "read everywhere, full music access",
			Permissions: []string{"standard:read:all", "standard:music:all"}},
		{ID: "readonly", Name: "Read-only user",
			Description: "read access to every resource",
			Permissions: []string{"readonly:read:all"}},
		{ID: "guest", Name: "Guest",
			Description: "unauthenticated default, music reads only",
			Permissions: []string{"guest:music:read"}},
	}
}

// Bootstrap registers the bundled rules and creates the bundled roles.
// Roles that already exist in storage are left untouched.
func Bootstrap(ctx context.Context, roles *RoleService, eval *Evaluator) error {
	for _, rule := range DefaultRules() {
		eval.AddRule(rule)
	}
	for _, role := range DefaultRoles() {
		if err := roles.Create(ctx, role); err != nil {
			if errors.Is(err, ErrRoleExists) {
				continue
			}
			return err
		}
	}
	return nil
}
