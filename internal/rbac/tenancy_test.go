package rbac

import (
	"context"
	"sync"
	"testing"
)

// captureRecorder collects audit records for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (c *captureRecorder) Record(_ context.Context, rec AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) byAction(action string) []AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []AuditRecord
	for _, rec := range c.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

func (c *captureRecorder) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestBoundaryAllowsOwnOrganization(t *testing.T) {
	rec := &captureRecorder{}
	guard := NewTenancyGuard(mustCatalog(t), rec)
	caller := &User{ID: "u-1", OrganizationID: "org-1", RoleID: RoleOrgAdmin}

	if !guard.EnforceOrganizationBoundary(context.Background(), caller, "org-1") {
		t.Fatalf("caller must access its own organization")
	}
	if !guard.EnforceOrganizationBoundary(context.Background(), caller, "") {
		t.Fatalf("empty org context means the caller's own")
	}
	if rec.len() != 0 {
		t.Fatalf("allowed access must not be recorded by the guard, got %d records", rec.len())
	}
}

func TestBoundaryDeniesForeignOrganization(t *testing.T) {
	rec := &captureRecorder{}
	guard := NewTenancyGuard(mustCatalog(t), rec)
	caller := &User{ID: "u-1", OrganizationID: "org-1", RoleID: RoleOrgAdmin}

	if guard.EnforceOrganizationBoundary(context.Background(), caller, "org-2") {
		t.Fatalf("cross-tenant access must be denied")
	}
	violations := rec.byAction(AuditBoundaryViolation)
	if len(violations) != 1 {
		t.Fatalf("expected one boundary_violation record, got %d", len(violations))
	}
	v := violations[0]
	if v.OrganizationID != "org-1" || v.UserID != "u-1" {
		t.Fatalf("violation must be attributed to the caller: %+v", v)
	}
	if v.Detail["requested_org"] != "org-2" || v.Detail["caller_org"] != "org-1" {
		t.Fatalf("violation detail incomplete: %v", v.Detail)
	}
}

func TestBoundaryGlobalRoleCrossesTenants(t *testing.T) {
	rec := &captureRecorder{}
	guard := NewTenancyGuard(mustCatalog(t), rec)
	root := &User{ID: "root", OrganizationID: "org-hq", RoleID: RoleSystemSuperAdmin}

	if !guard.EnforceOrganizationBoundary(context.Background(), root, "org-2") {
		t.Fatalf("global role must cross tenant boundaries")
	}
	if rec.len() != 0 {
		t.Fatalf("no record expected for allowed access")
	}
}

func TestBoundaryNilCallerDenied(t *testing.T) {
	guard := NewTenancyGuard(mustCatalog(t), nil)
	if guard.EnforceOrganizationBoundary(context.Background(), nil, "org-1") {
		t.Fatalf("nil caller must be denied")
	}
}
