package rbac

import (
	"context"
	"strings"
)

// TenancyGuard enforces the organization isolation boundary. It runs before
// permission resolution for organization-scoped resources so that the audit
// trail distinguishes "wrong tenant" from "wrong permission".
type TenancyGuard struct {
	catalog  *Catalog
	recorder AuditRecorder
}

// NewTenancyGuard constructs a guard. The recorder may be nil, in which case
// violations are still denied but not audited by the guard itself.
func NewTenancyGuard(catalog *Catalog, recorder AuditRecorder) *TenancyGuard {
	return &TenancyGuard{catalog: catalog, recorder: recorder}
}

// EnforceOrganizationBoundary allows the access iff the caller holds the
// top-level global role or the requested organization is the caller's own.
// A denial writes a boundary_violation audit record with the requested org.
func (g *TenancyGuard) EnforceOrganizationBoundary(ctx context.Context, caller *User, requestedOrgID string) bool {
	requestedOrgID = strings.TrimSpace(requestedOrgID)
	if caller == nil {
		return false
	}
	if g.catalog.IsGlobal(caller.RoleID) {
		return true
	}
	if requestedOrgID == "" || requestedOrgID == caller.OrganizationID {
		return true
	}
	if g.recorder != nil {
		g.recorder.Record(ctx, AuditRecord{
			OrganizationID: caller.OrganizationID,
			UserID:         caller.ID,
			Action:         AuditBoundaryViolation,
			Resource:       "organization",
			ResourceID:     requestedOrgID,
			Detail: map[string]string{
				"caller_org":    caller.OrganizationID,
				"requested_org": requestedOrgID,
			},
		})
	}
	return false
}
