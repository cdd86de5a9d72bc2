package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
	defaultOrgQuotaWindow   = time.Minute
	defaultOrgQuotaMax      = 300
)

// QuotaLimiter throttles per-organization request volume independently of
// per-user auth state. Implementations must increment atomically per key.
type QuotaLimiter interface {
	CheckAndConsume(ctx context.Context, key string, window time.Duration, max int) (allowed bool, retryAfter time.Duration, err error)
}

// Decision is the outcome of an authorization check. Deny is a normal return
// value, not an error; only infrastructure failures are errors, and those
// still carry a denying Decision (fail closed).
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Deny reasons carried by Decision and the audit trail.
const (
	ReasonInvalidSession    = "invalid_session"
	ReasonAccountLocked     = "account_locked"
	ReasonBoundaryViolation = "boundary_violation"
	ReasonMissingPermission = "missing_permission"
	ReasonRateLimited       = "rate_limited"
	ReasonStoreFailure      = "store_failure"
)

// Service is the authorization core facade consumed by the routing layer.
type Service struct {
	catalog  *Catalog
	store    Store
	resolver *Resolver
	sessions *SessionManager
	guard    *TenancyGuard
	recorder AuditRecorder
	limiter  QuotaLimiter
	now      func() time.Time

	lockoutThreshold int
	lockoutDuration  time.Duration
	orgQuotaWindow   time.Duration
	orgQuotaMax      int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLockoutPolicy overrides the failed-login threshold and lockout window.
func WithLockoutPolicy(threshold int, duration time.Duration) ServiceOption {
	return func(s *Service) {
		if threshold > 0 {
			s.lockoutThreshold = threshold
		}
		if duration > 0 {
			s.lockoutDuration = duration
		}
	}
}

// WithOrgQuota overrides the per-organization request quota.
func WithOrgQuota(window time.Duration, max int) ServiceOption {
	return func(s *Service) {
		if window > 0 {
			s.orgQuotaWindow = window
		}
		if max > 0 {
			s.orgQuotaMax = max
		}
	}
}

// WithSessionManager overrides the default session manager.
func WithSessionManager(m *SessionManager) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.sessions = m
		}
	}
}

// NewService wires the authorization core. The limiter may be nil, in which
// case no organization quota is enforced.
func NewService(catalog *Catalog, store Store, signer *TokenSigner, recorder AuditRecorder, limiter QuotaLimiter, opts ...ServiceOption) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("role catalog is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if signer == nil {
		return nil, errors.New("token signer is required")
	}
	resolver, err := NewResolver(catalog, store)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionManager(store, signer)
	if err != nil {
		return nil, err
	}
	s := &Service{
		catalog:          catalog,
		store:            store,
		resolver:         resolver,
		sessions:         sessions,
		guard:            NewTenancyGuard(catalog, recorder),
		recorder:         recorder,
		limiter:          limiter,
		now:              time.Now,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		orgQuotaWindow:   defaultOrgQuotaWindow,
		orgQuotaMax:      defaultOrgQuotaMax,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Keep dependent clocks aligned when a test clock is injected.
	s.resolver.now = s.now
	s.sessions.now = s.now
	return s, nil
}

// Resolver exposes the permission resolver to the consuming layer.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Sessions exposes the session manager to the consuming layer.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Catalog exposes the immutable role catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Authenticate verifies credentials and opens a session. Failed attempts
// increment the user's counter; the counter reaching the threshold locks the
// account for the lockout window. A success resets the counter to zero.
func (s *Service) Authenticate(ctx context.Context, email, password, ip, userAgent string) (*User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, "", ErrUnauthenticated
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrUnauthenticated
		}
		return nil, "", fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive() {
		return nil, "", ErrUnauthenticated
	}
	now := s.now().UTC()
	if user.LockedAt(now) {
		s.audit(ctx, user.OrganizationID, user.ID, AuditLoginBlocked, "user", user.ID, map[string]string{
			"lockout_until": user.LockoutUntil.UTC().Format(time.RFC3339),
		})
		return nil, "", ErrAccountLocked
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		updated, serr := s.store.Users(ctx).RecordLoginFailure(ctx, user.ID, s.lockoutThreshold, s.lockoutDuration, now)
		if serr != nil {
			return nil, "", fmt.Errorf("record login failure: %w", serr)
		}
		s.audit(ctx, user.OrganizationID, user.ID, AuditLoginFailed, "user", user.ID, map[string]string{
			"failed_attempts": strconv.Itoa(updated.FailedLoginAttempts),
		})
		if updated.AccountLocked && !user.AccountLocked {
			s.audit(ctx, user.OrganizationID, user.ID, AuditAccountLocked, "user", user.ID, map[string]string{
				"lockout_until": updated.LockoutUntil.UTC().Format(time.RFC3339),
			})
		}
		return nil, "", ErrUnauthenticated
	}
	if user.FailedLoginAttempts > 0 || user.AccountLocked {
		if err := s.store.Users(ctx).RecordLoginSuccess(ctx, user.ID, now); err != nil {
			return nil, "", fmt.Errorf("record login success: %w", err)
		}
		user.FailedLoginAttempts = 0
		user.AccountLocked = false
	}
	_, token, err := s.sessions.Create(ctx, user, ip, userAgent)
	if err != nil {
		return nil, "", err
	}
	s.audit(ctx, user.OrganizationID, user.ID, AuditLogin, "session", "", map[string]string{"ip": ip})
	return user, token, nil
}

// Authorize decides whether the token's principal may perform action on
// resource within the organization context. The pipeline is session ->
// tenancy -> permission -> organization quota, and every decision over a
// protected resource produces exactly one audit record.
func (s *Service) Authorize(ctx context.Context, token, resource, action string, scope Scope, organizationContext string) (Decision, error) {
	perm := Permission{Resource: strings.TrimSpace(strings.ToLower(resource)), Action: strings.TrimSpace(strings.ToLower(action)), Scope: scope}
	if err := perm.Validate(); err != nil {
		return Decision{Allowed: false, Reason: ReasonMissingPermission}, err
	}
	user, _, err := s.sessions.Validate(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountLocked):
			s.audit(ctx, organizationContext, "", AuditAccessDenied, perm.Resource, "", map[string]string{
				"permission": perm.Key(), "reason": ReasonAccountLocked,
			})
			return Decision{Allowed: false, Reason: ReasonAccountLocked}, nil
		case errors.Is(err, ErrUnauthenticated):
			s.audit(ctx, organizationContext, "", AuditAccessDenied, perm.Resource, "", map[string]string{
				"permission": perm.Key(), "reason": ReasonInvalidSession,
			})
			return Decision{Allowed: false, Reason: ReasonInvalidSession}, nil
		default:
			// Infrastructure failure: deny, audit, and surface the error.
			s.audit(ctx, organizationContext, "", AuditAccessDenied, perm.Resource, "", map[string]string{
				"permission": perm.Key(), "reason": ReasonStoreFailure,
			})
			return Decision{Allowed: false, Reason: ReasonStoreFailure}, err
		}
	}
	if !s.guard.EnforceOrganizationBoundary(ctx, user, organizationContext) {
		// The guard already wrote the boundary_violation record; it is the
		// single audit record for this decision.
		return Decision{Allowed: false, Reason: ReasonBoundaryViolation}, nil
	}
	ok, err := s.resolver.HasPermission(ctx, user.ID, perm)
	if err != nil {
		s.audit(ctx, user.OrganizationID, user.ID, AuditAccessDenied, perm.Resource, "", map[string]string{
			"permission": perm.Key(), "reason": ReasonStoreFailure,
		})
		return Decision{Allowed: false, Reason: ReasonStoreFailure}, err
	}
	if !ok {
		s.audit(ctx, user.OrganizationID, user.ID, AuditAccessDenied, perm.Resource, "", map[string]string{
			"permission": perm.Key(), "reason": ReasonMissingPermission,
		})
		return Decision{Allowed: false, Reason: ReasonMissingPermission}, nil
	}
	if s.limiter != nil {
		allowed, retryAfter, lerr := s.limiter.CheckAndConsume(ctx, user.OrganizationID, s.orgQuotaWindow, s.orgQuotaMax)
		if lerr != nil {
			// Counter store unavailable: fail closed.
			s.audit(ctx, user.OrganizationID, user.ID, AuditAccessDenied, perm.Resource, "", map[string]string{
				"permission": perm.Key(), "reason": ReasonStoreFailure,
			})
			return Decision{Allowed: false, Reason: ReasonStoreFailure, RetryAfter: retryAfter}, lerr
		}
		if !allowed {
			s.audit(ctx, user.OrganizationID, user.ID, AuditRateLimited, perm.Resource, "", map[string]string{
				"permission":  perm.Key(),
				"retry_after": strconv.Itoa(int(retryAfter / time.Second)),
			})
			return Decision{Allowed: false, Reason: ReasonRateLimited, RetryAfter: retryAfter}, nil
		}
	}
	s.audit(ctx, user.OrganizationID, user.ID, AuditAccessAllowed, perm.Resource, "", map[string]string{
		"permission": perm.Key(),
	})
	return Decision{Allowed: true}, nil
}

// GrantPermission records a grant override for the user. The actor must
// out-rank the target and share its organization unless global.
func (s *Service) GrantPermission(ctx context.Context, actorID, userID, permissionKey, reason string) error {
	return s.writeOverride(ctx, actorID, userID, permissionKey, reason, true)
}

// RevokePermission records a revoke override for the user. Under the
// most-recent-wins rule this also neutralizes an earlier grant override.
func (s *Service) RevokePermission(ctx context.Context, actorID, userID, permissionKey, reason string) error {
	return s.writeOverride(ctx, actorID, userID, permissionKey, reason, false)
}

func (s *Service) writeOverride(ctx context.Context, actorID, userID, permissionKey, reason string, granted bool) error {
	perm, err := ParsePermissionKey(permissionKey)
	if err != nil {
		return err
	}
	actor, target, err := s.loadActorAndTarget(ctx, actorID, userID)
	if err != nil {
		return err
	}
	if !s.canAdminister(actor, target) {
		return ErrForbidden
	}
	override := &PermissionOverride{
		UserID:        target.ID,
		PermissionKey: perm.Key(),
		Granted:       granted,
		GrantedBy:     actor.ID,
		Reason:        strings.TrimSpace(reason),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Overrides(ctx).Create(ctx, override); err != nil {
		return fmt.Errorf("persist override: %w", err)
	}
	action := AuditPermissionGranted
	if !granted {
		action = AuditPermissionRevoked
	}
	s.audit(ctx, target.OrganizationID, actor.ID, action, "user", target.ID, map[string]string{
		"permission": perm.Key(),
		"reason":     override.Reason,
	})
	return nil
}

// ChangeRole moves a user to a new role. The actor's level must be strictly
// greater than both the user's current and target level.
func (s *Service) ChangeRole(ctx context.Context, actorID, userID, newRoleID string) error {
	if _, err := s.catalog.Role(newRoleID); err != nil {
		return err
	}
	actor, target, err := s.loadActorAndTarget(ctx, actorID, userID)
	if err != nil {
		return err
	}
	if !s.guard.EnforceOrganizationBoundary(ctx, actor, target.OrganizationID) {
		return ErrForbidden
	}
	if !s.catalog.CanManage(actor.RoleID, target.RoleID, newRoleID) {
		return ErrForbidden
	}
	if err := s.store.Users(ctx).UpdateRole(ctx, target.ID, newRoleID); err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	s.audit(ctx, target.OrganizationID, actor.ID, AuditRoleChanged, "user", target.ID, map[string]string{
		"from": target.RoleID,
		"to":   newRoleID,
	})
	return nil
}

// Logout invalidates the session for the token. Unknown or already-inactive
// sessions are a no-op success.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.sessions.signer.Verify(token)
	if _, ierr := s.sessions.Invalidate(ctx, token); ierr != nil {
		return ierr
	}
	if err == nil {
		s.audit(ctx, claims.OrganizationID, claims.Subject, AuditLogout, "session", "", nil)
	}
	return nil
}

// QueryAuditLog returns one page of the organization's audit trail.
func (s *Service) QueryAuditLog(ctx context.Context, organizationID string, page, limit int) ([]AuditRecord, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 1000 {
		limit = 50
	}
	return s.store.Audit(ctx).ListByOrg(ctx, organizationID, (page-1)*limit, limit)
}

// RegisterUser provisions a user inside an organization.
func (s *Service) RegisterUser(ctx context.Context, organizationID, email, password, roleID string) (*User, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if _, err := s.catalog.Role(roleID); err != nil {
		return nil, err
	}
	hash, err := HashPassword(strings.TrimSpace(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.now().UTC()
	user := &User{
		OrganizationID: organizationID,
		Email:          email,
		RoleID:         roleID,
		PasswordHash:   hash,
		Status:         UserStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) loadActorAndTarget(ctx context.Context, actorID, userID string) (*User, *User, error) {
	actorID = strings.TrimSpace(actorID)
	userID = strings.TrimSpace(userID)
	if actorID == "" || userID == "" {
		return nil, nil, fmt.Errorf("%w: actor and user ids are required", ErrInvalidInput)
	}
	actor, err := s.store.Users(ctx).Find(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	target, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return actor, target, nil
}

// canAdminister gates override management: the actor must hold the global
// role, or out-rank the target within the same organization.
func (s *Service) canAdminister(actor, target *User) bool {
	if s.catalog.IsGlobal(actor.RoleID) {
		return true
	}
	if actor.OrganizationID != target.OrganizationID {
		return false
	}
	order, err := s.catalog.CompareLevel(actor.RoleID, target.RoleID)
	return err == nil && order == LevelHigher
}

func (s *Service) audit(ctx context.Context, orgID, userID, action, resource, resourceID string, detail map[string]string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, AuditRecord{
		OrganizationID: orgID,
		UserID:         userID,
		Action:         action,
		Resource:       resource,
		ResourceID:     resourceID,
		Detail:         detail,
	})
}
