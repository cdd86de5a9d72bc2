package rbac

import (
	"fmt"
	"sort"
)

// Canonical role identifiers. Role definitions are static and loaded once at
// process start; only role assignment to a user is mutable at runtime.
const (
	RoleSystemSuperAdmin   = "system_super_admin"
	RoleOrgAdmin           = "org_admin"
	RoleManager            = "manager"
	RoleSupervisor         = "supervisor"
	RoleAgent              = "agent"
	RoleExternalClientView = "external_client_view"
)

// Role describes a position in the strict authority hierarchy together with
// its default capability set.
type Role struct {
	ID                 string
	DisplayName        string
	Level              int
	DefaultPermissions []Permission
}

// LevelOrder is the result of comparing two role levels.
type LevelOrder int

const (
	LevelLower LevelOrder = iota - 1
	LevelEqual
	LevelHigher
)

func builtinRoles() []Role {
	return []Role{
		{
			ID:          RoleSystemSuperAdmin,
			DisplayName: "System Super Admin",
			Level:       100,
			// The resolver grants this role every permission implicitly; the
			// explicit set below only feeds listings and token claims.
			DefaultPermissions: []Permission{
				{Resource: "organizations", Action: "manage", Scope: ScopeGlobal},
				{Resource: "users", Action: "manage", Scope: ScopeGlobal},
				{Resource: "audit", Action: "read", Scope: ScopeGlobal},
			},
		},
		{
			ID:          RoleOrgAdmin,
			DisplayName: "Organization Admin",
			Level:       80,
			DefaultPermissions: []Permission{
				{Resource: "users", Action: "manage", Scope: ScopeOrganization},
				{Resource: "roles", Action: "assign", Scope: ScopeOrganization},
				{Resource: "permissions", Action: "manage", Scope: ScopeOrganization},
				{Resource: "billing", Action: "read", Scope: ScopeOrganization},
				{Resource: "billing", Action: "manage", Scope: ScopeOrganization},
				{Resource: "reports", Action: "read", Scope: ScopeOrganization},
				{Resource: "audit", Action: "read", Scope: ScopeOrganization},
				{Resource: "opportunities", Action: "manage", Scope: ScopeOrganization},
				{Resource: "tickets", Action: "manage", Scope: ScopeOrganization},
			},
		},
		{
			ID:          RoleManager,
			DisplayName: "Manager",
			Level:       60,
			DefaultPermissions: []Permission{
				{Resource: "users", Action: "read", Scope: ScopeOrganization},
				{Resource: "reports", Action: "read", Scope: ScopeOrganization},
				{Resource: "opportunities", Action: "manage", Scope: ScopeOrganization},
				{Resource: "tickets", Action: "manage", Scope: ScopeOrganization},
			},
		},
		{
			ID:          RoleSupervisor,
			DisplayName: "Supervisor",
			Level:       40,
			DefaultPermissions: []Permission{
				{Resource: "opportunities", Action: "manage", Scope: ScopeTeam},
				{Resource: "tickets", Action: "manage", Scope: ScopeTeam},
				{Resource: "reports", Action: "read", Scope: ScopeTeam},
			},
		},
		{
			ID:          RoleAgent,
			DisplayName: "Agent",
			Level:       20,
			DefaultPermissions: []Permission{
				{Resource: "opportunities", Action: "manage", Scope: ScopeSelf},
				{Resource: "tickets", Action: "manage", Scope: ScopeSelf},
			},
		},
		{
			ID:          RoleExternalClientView,
			DisplayName: "External Client View",
			Level:       10,
			DefaultPermissions: []Permission{
				{Resource: "tickets", Action: "read", Scope: ScopeSelf},
				{Resource: "invoices", Action: "read", Scope: ScopeSelf},
			},
		},
	}
}

// Catalog is the immutable role registry. It never mutates after NewCatalog
// and performs no I/O.
type Catalog struct {
	roles map[string]Role
}

// NewCatalog loads the builtin roles and validates the startup invariant:
// all six canonical roles present and strictly ordered by level. A failure
// here means the process cannot start.
func NewCatalog() (*Catalog, error) {
	roles := builtinRoles()
	required := []string{
		RoleSystemSuperAdmin, RoleOrgAdmin, RoleManager,
		RoleSupervisor, RoleAgent, RoleExternalClientView,
	}
	byID := make(map[string]Role, len(roles))
	for _, r := range roles {
		for _, p := range r.DefaultPermissions {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("role %s: %w", r.ID, err)
			}
		}
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate role %s", r.ID)
		}
		byID[r.ID] = r
	}
	for _, id := range required {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("canonical role %s is missing", id)
		}
	}
	if len(byID) != len(required) {
		return nil, fmt.Errorf("expected %d roles, got %d", len(required), len(byID))
	}
	levels := make([]int, 0, len(roles))
	for _, r := range roles {
		levels = append(levels, r.Level)
	}
	sort.Ints(levels)
	for i := 1; i < len(levels); i++ {
		if levels[i] == levels[i-1] {
			return nil, fmt.Errorf("role levels are not strictly ordered: duplicate level %d", levels[i])
		}
	}
	return &Catalog{roles: byID}, nil
}

// Role returns the role definition by id.
func (c *Catalog) Role(id string) (Role, error) {
	r, ok := c.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return r, nil
}

// RolePermissions returns the default permission set for a role.
func (c *Catalog) RolePermissions(id string) (PermissionSet, error) {
	r, ok := c.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return NewPermissionSet(r.DefaultPermissions...), nil
}

// CompareLevel orders role a against role b by authority level.
func (c *Catalog) CompareLevel(a, b string) (LevelOrder, error) {
	ra, err := c.Role(a)
	if err != nil {
		return LevelEqual, err
	}
	rb, err := c.Role(b)
	if err != nil {
		return LevelEqual, err
	}
	switch {
	case ra.Level > rb.Level:
		return LevelHigher, nil
	case ra.Level < rb.Level:
		return LevelLower, nil
	default:
		return LevelEqual, nil
	}
}

// CanManage reports whether an actor holding actorRole may move a user from
// currentRole to targetRole. The actor's level must be strictly greater than
// both; a role never manages itself.
func (c *Catalog) CanManage(actorRole, currentRole, targetRole string) bool {
	cur, err := c.CompareLevel(actorRole, currentRole)
	if err != nil || cur != LevelHigher {
		return false
	}
	tgt, err := c.CompareLevel(actorRole, targetRole)
	return err == nil && tgt == LevelHigher
}

// IsGlobal reports whether the role ignores organization boundaries.
func (c *Catalog) IsGlobal(roleID string) bool {
	return roleID == RoleSystemSuperAdmin
}
