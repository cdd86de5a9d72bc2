package rbac

import "time"

// Organization is the tenant isolation boundary.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a principal owned by an organization. Users are soft-disabled via
// Status, never hard-deleted while audit records reference them.
type User struct {
	ID                  string
	OrganizationID      string
	Email               string
	RoleID              string
	PasswordHash        string
	Status              string
	FailedLoginAttempts int
	AccountLocked       bool
	LockoutUntil        time.Time
	TwoFactorEnabled    bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive reports whether the account may authenticate at all.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// LockedAt reports whether the account is locked out at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.AccountLocked && now.Before(u.LockoutUntil)
}

// PermissionOverride is a per-user exception to the role's default set.
// Granted=true adds a permission the role lacks, Granted=false revokes one
// the role would otherwise grant. Overrides are the last word in resolution.
type PermissionOverride struct {
	ID            string
	UserID        string
	PermissionKey string
	Granted       bool
	GrantedBy     string
	Reason        string
	ExpiresAt     time.Time // zero means never expires
	CreatedAt     time.Time
}

// Expired reports whether the override should be ignored.
func (o PermissionOverride) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// Session is an authenticated device session. One user may hold several
// concurrently; ExpiresAt is fixed at creation while LastActivity slides.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	IsActive     bool
}

// AuditRecord is one append-only entry in the tenant-partitioned audit log.
type AuditRecord struct {
	ID             string
	OrganizationID string
	UserID         string
	Action         string
	Resource       string
	ResourceID     string
	Detail         map[string]string
	CreatedAt      time.Time
}

// Audit action names recorded by this package.
const (
	AuditLogin             = "login"
	AuditLoginFailed       = "login_failed"
	AuditLoginBlocked      = "login_blocked"
	AuditAccountLocked     = "account_locked"
	AuditLogout            = "logout"
	AuditAccessAllowed     = "access_allowed"
	AuditAccessDenied      = "access_denied"
	AuditBoundaryViolation = "boundary_violation"
	AuditRateLimited       = "rate_limited"
	AuditPermissionGranted = "permission_granted"
	AuditPermissionRevoked = "permission_revoked"
	AuditRoleChanged       = "role_changed"
)
