package rbac

import (
	"context"
	"time"
)

// Store describes persistence operations required by the authorization core.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	Overrides(ctx context.Context) OverrideStore
	Audit(ctx context.Context) AuditStore
}

// OrganizationStore manages tenants.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
}

// UserStore manages users. Login-state transitions are applied atomically
// with respect to concurrent reads of the same user.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByOrg(ctx context.Context, orgID string) ([]*User, error)
	// RecordLoginFailure increments the failure counter and, at threshold,
	// locks the account until now+lockout. Returns the updated user.
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockout time.Duration, now time.Time) (*User, error)
	// RecordLoginSuccess resets the failure counter and clears any lock.
	RecordLoginSuccess(ctx context.Context, userID string, now time.Time) error
	UpdateRole(ctx context.Context, userID, roleID string) error
	SetStatus(ctx context.Context, userID, status string) error
}

// SessionStore manages session lifecycle.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// Invalidate is idempotent; deactivating an inactive session is a no-op.
	Invalidate(ctx context.Context, tokenHash string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
}

// OverrideStore manages per-user permission exceptions.
type OverrideStore interface {
	Create(ctx context.Context, o *PermissionOverride) error
	ListForUser(ctx context.Context, userID string) ([]PermissionOverride, error)
	Delete(ctx context.Context, userID, permissionKey string) error
}

// AuditStore appends immutable entries partitioned by organization.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
	ListByOrg(ctx context.Context, orgID string, offset, limit int) ([]AuditRecord, error)
}

// AuditRecorder is the fire-and-forget audit sink used by the core. The
// implementation must surface write failures on the operational error
// channel without failing the caller.
type AuditRecorder interface {
	Record(ctx context.Context, rec AuditRecord)
}
