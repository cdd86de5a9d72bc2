package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testClock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}

func seedUser(t *testing.T, store *MemStore, orgID, email, roleID string) *User {
	t.Helper()
	u := &User{
		OrganizationID: orgID,
		Email:          email,
		RoleID:         roleID,
		PasswordHash:   "unused",
		Status:         UserStatusActive,
		CreatedAt:      testClock,
		UpdatedAt:      testClock,
	}
	if err := store.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func seedOverride(t *testing.T, store *MemStore, userID, key string, granted bool, createdAt, expiresAt time.Time) {
	t.Helper()
	err := store.Overrides(context.Background()).Create(context.Background(), &PermissionOverride{
		UserID:        userID,
		PermissionKey: key,
		Granted:       granted,
		GrantedBy:     "admin-1",
		CreatedAt:     createdAt,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		t.Fatalf("seed override %s: %v", key, err)
	}
}

func newTestResolver(t *testing.T, store *MemStore) *Resolver {
	t.Helper()
	r, err := NewResolver(mustCatalog(t), store, WithResolverClock(func() time.Time { return testClock }))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestEffectivePermissionsMatchRoleDefaults(t *testing.T) {
	store := NewMemStore()
	agent := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	r := newTestResolver(t, store)

	set, err := r.EffectivePermissions(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	defaults, err := r.catalog.RolePermissions(RoleAgent)
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(set) != len(defaults) {
		t.Fatalf("expected %d permissions, got %v", len(defaults), set.Keys())
	}
	for p := range defaults {
		if !set.Contains(p) {
			t.Fatalf("missing %s", p.Key())
		}
	}
}

func TestGrantOverrideExtendsRole(t *testing.T) {
	store := NewMemStore()
	supervisor := seedUser(t, store, "org-1", "alice@example.com", RoleSupervisor)
	seedOverride(t, store, supervisor.ID, "billing:read:organization", true, testClock.Add(-time.Hour), time.Time{})
	r := newTestResolver(t, store)

	billing := Permission{Resource: "billing", Action: "read", Scope: ScopeOrganization}
	ok, err := r.HasPermission(context.Background(), supervisor.ID, billing)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatalf("grant override should add billing:read:organization")
	}
}

func TestRevokeOverrideRemovesRoleDefault(t *testing.T) {
	store := NewMemStore()
	manager := seedUser(t, store, "org-1", "mgr@example.com", RoleManager)
	seedOverride(t, store, manager.ID, "reports:read:organization", false, testClock.Add(-time.Hour), time.Time{})
	r := newTestResolver(t, store)

	ok, err := r.HasPermission(context.Background(), manager.ID,
		Permission{Resource: "reports", Action: "read", Scope: ScopeOrganization})
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatalf("revoke override should remove the role default")
	}
}

func TestExpiredOverrideIsIgnored(t *testing.T) {
	store := NewMemStore()
	supervisor := seedUser(t, store, "org-1", "alice@example.com", RoleSupervisor)
	seedOverride(t, store, supervisor.ID, "billing:read:organization", true,
		testClock.Add(-2*time.Hour), testClock.Add(-time.Hour))
	r := newTestResolver(t, store)

	ok, err := r.HasPermission(context.Background(), supervisor.ID,
		Permission{Resource: "billing", Action: "read", Scope: ScopeOrganization})
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatalf("expired grant must not apply")
	}
}

func TestMostRecentOverrideWins(t *testing.T) {
	store := NewMemStore()
	supervisor := seedUser(t, store, "org-1", "alice@example.com", RoleSupervisor)
	key := "billing:read:organization"
	billing := Permission{Resource: "billing", Action: "read", Scope: ScopeOrganization}
	r := newTestResolver(t, store)

	// Grant then revoke: the revoke is newer and has the last word.
	seedOverride(t, store, supervisor.ID, key, true, testClock.Add(-2*time.Hour), time.Time{})
	seedOverride(t, store, supervisor.ID, key, false, testClock.Add(-time.Hour), time.Time{})
	ok, err := r.HasPermission(context.Background(), supervisor.ID, billing)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatalf("newer revoke should win over older grant")
	}

	// A newer grant flips it back.
	seedOverride(t, store, supervisor.ID, key, true, testClock.Add(-time.Minute), time.Time{})
	ok, err = r.HasPermission(context.Background(), supervisor.ID, billing)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatalf("newest grant should win")
	}
}

func TestUnknownUserResolvesEmpty(t *testing.T) {
	store := NewMemStore()
	r := newTestResolver(t, store)

	set, err := r.EffectivePermissions(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unknown user must not be an error: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("unknown user must resolve to the empty set, got %v", set.Keys())
	}
	ok, err := r.HasPermission(context.Background(), "ghost",
		Permission{Resource: "tickets", Action: "read", Scope: ScopeSelf})
	if err != nil || ok {
		t.Fatalf("unknown user must be denied without error, got ok=%v err=%v", ok, err)
	}
}

func TestSuperAdminHoldsEverything(t *testing.T) {
	store := NewMemStore()
	root := seedUser(t, store, "org-hq", "root@example.com", RoleSystemSuperAdmin)
	r := newTestResolver(t, store)

	ok, err := r.HasPermission(context.Background(), root.ID,
		Permission{Resource: "anything", Action: "whatsoever", Scope: ScopeSelf})
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatalf("super admin must pass any permission check")
	}
}

func TestBatchCheckMatchesSequential(t *testing.T) {
	store := NewMemStore()
	supervisor := seedUser(t, store, "org-1", "alice@example.com", RoleSupervisor)
	seedOverride(t, store, supervisor.ID, "billing:read:organization", true, testClock.Add(-time.Hour), time.Time{})
	r := newTestResolver(t, store)

	perms := []Permission{
		{Resource: "tickets", Action: "manage", Scope: ScopeTeam},
		{Resource: "billing", Action: "read", Scope: ScopeOrganization},
		{Resource: "users", Action: "manage", Scope: ScopeOrganization},
	}
	batch, err := r.BatchCheck(context.Background(), supervisor.ID, perms)
	if err != nil {
		t.Fatalf("BatchCheck: %v", err)
	}
	if len(batch) != len(perms) {
		t.Fatalf("expected %d results, got %d", len(perms), len(batch))
	}
	for i, p := range perms {
		single, err := r.HasPermission(context.Background(), supervisor.ID, p)
		if err != nil {
			t.Fatalf("HasPermission(%s): %v", p.Key(), err)
		}
		if batch[i] != single {
			t.Fatalf("batch[%d]=%v diverges from point check %v for %s", i, batch[i], single, p.Key())
		}
	}

	any, err := r.HasAnyPermission(context.Background(), supervisor.ID, perms)
	if err != nil || !any {
		t.Fatalf("expected HasAnyPermission true, got %v %v", any, err)
	}
}

func TestBatchCheckRejectsInvalidTuple(t *testing.T) {
	store := NewMemStore()
	supervisor := seedUser(t, store, "org-1", "alice@example.com", RoleSupervisor)
	r := newTestResolver(t, store)

	_, err := r.BatchCheck(context.Background(), supervisor.ID, []Permission{
		{Resource: "tickets", Action: "manage", Scope: ScopeTeam},
		{Resource: "", Action: "read", Scope: ScopeSelf},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
