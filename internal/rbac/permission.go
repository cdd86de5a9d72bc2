package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is the breadth over which a permission applies.
type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeOrganization Scope = "organization"
	ScopeTeam         Scope = "team"
	ScopeSelf         Scope = "self"
)

// ParseScope normalizes and validates a scope value.
func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.TrimSpace(strings.ToLower(raw))) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeOrganization:
		return ScopeOrganization, nil
	case ScopeTeam:
		return ScopeTeam, nil
	case ScopeSelf:
		return ScopeSelf, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, raw)
	}
}

// Permission is a capability tuple. Two permissions are equal iff all three
// fields match; it carries no identity of its own.
type Permission struct {
	Resource string
	Action   string
	Scope    Scope
}

// Key renders the canonical "resource:action:scope" form used for storage
// and override keys.
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action + ":" + string(p.Scope)
}

// Validate reports whether the tuple is fully populated with a known scope.
func (p Permission) Validate() error {
	if strings.TrimSpace(p.Resource) == "" {
		return fmt.Errorf("%w: permission resource is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Action) == "" {
		return fmt.Errorf("%w: permission action is required", ErrInvalidInput)
	}
	if _, err := ParseScope(string(p.Scope)); err != nil {
		return err
	}
	return nil
}

// ParsePermissionKey parses the canonical "resource:action:scope" form.
func ParsePermissionKey(key string) (Permission, error) {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) != 3 {
		return Permission{}, fmt.Errorf("%w: permission key must be resource:action:scope", ErrInvalidInput)
	}
	scope, err := ParseScope(parts[2])
	if err != nil {
		return Permission{}, err
	}
	p := Permission{
		Resource: strings.TrimSpace(strings.ToLower(parts[0])),
		Action:   strings.TrimSpace(strings.ToLower(parts[1])),
		Scope:    scope,
	}
	if err := p.Validate(); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// PermissionSet is a deduplicated collection of permissions.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Add(p Permission)    { s[p] = struct{}{} }
func (s PermissionSet) Remove(p Permission) { delete(s, p) }

func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Keys returns the sorted canonical keys, mainly for logging and tokens.
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p.Key())
	}
	sort.Strings(out)
	return out
}
