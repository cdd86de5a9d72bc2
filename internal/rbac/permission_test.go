package rbac

import (
	"errors"
	"testing"
)

func TestParsePermissionKey(t *testing.T) {
	perm, err := ParsePermissionKey("Billing:Read:Organization")
	if err != nil {
		t.Fatalf("ParsePermissionKey: %v", err)
	}
	if perm.Resource != "billing" || perm.Action != "read" || perm.Scope != ScopeOrganization {
		t.Fatalf("unexpected tuple: %+v", perm)
	}
	if perm.Key() != "billing:read:organization" {
		t.Fatalf("unexpected key: %s", perm.Key())
	}

	for _, bad := range []string{"", "billing", "billing:read", "billing:read:planet", ":read:self", "billing::self"} {
		if _, err := ParsePermissionKey(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("key %q: expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestParseScope(t *testing.T) {
	scope, err := ParseScope(" GLOBAL ")
	if err != nil || scope != ScopeGlobal {
		t.Fatalf("expected global scope, got %v %v", scope, err)
	}
	if _, err := ParseScope("tenant"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPermissionSetOperations(t *testing.T) {
	read := Permission{Resource: "tickets", Action: "read", Scope: ScopeSelf}
	manage := Permission{Resource: "tickets", Action: "manage", Scope: ScopeTeam}

	set := NewPermissionSet(read, read, manage)
	if len(set) != 2 {
		t.Fatalf("expected deduplication, got %d entries", len(set))
	}
	if !set.Contains(read) || !set.Contains(manage) {
		t.Fatalf("set is missing members: %v", set.Keys())
	}
	set.Remove(read)
	if set.Contains(read) {
		t.Fatalf("remove did not take effect")
	}
	// Equality is the full tuple: same resource+action at another scope is
	// a different permission.
	if set.Contains(Permission{Resource: "tickets", Action: "manage", Scope: ScopeSelf}) {
		t.Fatalf("scope must participate in equality")
	}

	keys := set.Keys()
	if len(keys) != 1 || keys[0] != "tickets:manage:team" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
