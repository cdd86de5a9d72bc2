package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Resolver computes effective permission sets by combining role defaults
// with per-user overrides. Resolution is idempotent and side-effect-free;
// concurrent identical checks may race harmlessly.
type Resolver struct {
	catalog *Catalog
	store   Store
	now     func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(catalog *Catalog, store Store, opts ...ResolverOption) (*Resolver, error) {
	if catalog == nil {
		return nil, errors.New("role catalog is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	r := &Resolver{catalog: catalog, store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// EffectivePermissions returns the deduplicated permission set for a user:
// role defaults, plus grant overrides, minus revoke overrides. Expired
// overrides are ignored; when a grant and a revoke exist for the same key
// the most recently created one wins. An unknown user resolves to the empty
// set: fail closed, not an error.
//
// Note for the top global role the returned set lists only the role's
// explicit defaults; HasPermission still answers true for any query.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewPermissionSet(), nil
		}
		return NewPermissionSet(), fmt.Errorf("resolve user %s: %w", userID, err)
	}
	set, err := r.catalog.RolePermissions(user.RoleID)
	if err != nil {
		// A user referencing an unknown role resolves to nothing.
		return NewPermissionSet(), nil
	}
	overrides, err := r.store.Overrides(ctx).ListForUser(ctx, userID)
	if err != nil {
		return NewPermissionSet(), fmt.Errorf("list overrides for %s: %w", userID, err)
	}
	r.applyOverrides(set, overrides)
	return set, nil
}

// applyOverrides mutates set in place. Overrides are applied in creation
// order so that the latest override for a key has the last word.
func (r *Resolver) applyOverrides(set PermissionSet, overrides []PermissionOverride) {
	now := r.now()
	sorted := make([]PermissionOverride, len(overrides))
	copy(sorted, overrides)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	for _, o := range sorted {
		if o.Expired(now) {
			continue
		}
		perm, err := ParsePermissionKey(o.PermissionKey)
		if err != nil {
			continue
		}
		if o.Granted {
			set.Add(perm)
		} else {
			set.Remove(perm)
		}
	}
}

// HasPermission answers a point query. The top global role short-circuits to
// true for any permission.
func (r *Resolver) HasPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	if err := perm.Validate(); err != nil {
		return false, err
	}
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	if user.RoleID == RoleSystemSuperAdmin {
		return true, nil
	}
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Contains(perm), nil
}

// HasAnyPermission reports whether the user holds at least one of the
// permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID string, perms []Permission) (bool, error) {
	results, err := r.BatchCheck(ctx, userID, perms)
	if err != nil {
		return false, err
	}
	for _, ok := range results {
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// BatchCheck answers one membership test per tuple. Results are identical to
// calling HasPermission once per tuple in sequence; the single set resolution
// is purely a performance optimization.
func (r *Resolver) BatchCheck(ctx context.Context, userID string, perms []Permission) ([]bool, error) {
	results := make([]bool, len(perms))
	for _, p := range perms {
		if err := p.Validate(); err != nil {
			return results, err
		}
	}
	if len(perms) == 0 {
		return results, nil
	}
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return results, nil
		}
		return results, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	if user.RoleID == RoleSystemSuperAdmin {
		for i := range results {
			results[i] = true
		}
		return results, nil
	}
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return results, err
	}
	for i, p := range perms {
		results[i] = set.Contains(p)
	}
	return results, nil
}

// Principal loads a user with the resolved role and permission set.
func (r *Resolver) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	role, err := r.catalog.Role(user.RoleID)
	if err != nil {
		return Principal{}, err
	}
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: *user, Role: role, Permissions: set}, nil
}
