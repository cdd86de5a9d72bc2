package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"veyra.org/internal/ids"
)

// MemStore implements Store with in-process concurrency safety. Each entity
// family holds its own lock so unrelated tenants' traffic does not serialize
// on a single global mutex.
type MemStore struct {
	orgMu sync.RWMutex
	orgs  map[string]*Organization

	userMu  sync.RWMutex
	users   map[string]*User
	byEmail map[string]string

	sessMu   sync.RWMutex
	sessions map[string]*Session // keyed by token hash

	ovrMu     sync.RWMutex
	overrides map[string][]PermissionOverride // keyed by user id

	auditMu sync.RWMutex
	audits  map[string][]AuditRecord // keyed by organization id
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		orgs:      make(map[string]*Organization),
		users:     make(map[string]*User),
		byEmail:   make(map[string]string),
		sessions:  make(map[string]*Session),
		overrides: make(map[string][]PermissionOverride),
		audits:    make(map[string][]AuditRecord),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Organizations(context.Context) OrganizationStore { return (*memOrgStore)(m) }
func (m *MemStore) Users(context.Context) UserStore                 { return (*memUserStore)(m) }
func (m *MemStore) Sessions(context.Context) SessionStore           { return (*memSessionStore)(m) }
func (m *MemStore) Overrides(context.Context) OverrideStore         { return (*memOverrideStore)(m) }
func (m *MemStore) Audit(context.Context) AuditStore                { return (*memAuditStore)(m) }

// Organization store -------------------------------------------------------

type memOrgStore MemStore

func (s *memOrgStore) Create(_ context.Context, org *Organization) error {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	if _, ok := s.orgs[org.ID]; ok {
		return fmt.Errorf("%w: organization %s", ErrAlreadyExists, org.ID)
	}
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *memOrgStore) Find(_ context.Context, id string) (*Organization, error) {
	s.orgMu.RLock()
	defer s.orgMu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, id)
	}
	cp := *org
	return &cp, nil
}

func (s *memOrgStore) List(_ context.Context) ([]*Organization, error) {
	s.orgMu.RLock()
	defer s.orgMu.RUnlock()
	out := make([]*Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		cp := *org
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// User store ---------------------------------------------------------------

type memUserStore MemStore

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("%w: email %s", ErrAlreadyExists, u.Email)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *memUserStore) Find(_ context.Context, id string) (*User, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *memUserStore) ListByOrg(_ context.Context, orgID string) ([]*User, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	var out []*User
	for _, u := range s.users {
		if u.OrganizationID == orgID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memUserStore) RecordLoginFailure(_ context.Context, userID string, threshold int, lockout time.Duration, now time.Time) (*User, error) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold {
		u.AccountLocked = true
		u.LockoutUntil = now.Add(lockout)
	}
	u.UpdatedAt = now
	cp := *u
	return &cp, nil
}

func (s *memUserStore) RecordLoginSuccess(_ context.Context, userID string, now time.Time) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.FailedLoginAttempts = 0
	u.AccountLocked = false
	u.LockoutUntil = time.Time{}
	u.UpdatedAt = now
	return nil
}

func (s *memUserStore) UpdateRole(_ context.Context, userID, roleID string) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.RoleID = roleID
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memUserStore) SetStatus(_ context.Context, userID, status string) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Session store ------------------------------------------------------------

type memSessionStore MemStore

func (s *memSessionStore) Create(_ context.Context, sess *Session) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	cp := *sess
	s.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *memSessionStore) FindByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, fmt.Errorf("%w: session", ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) Touch(_ context.Context, id string, at time.Time) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			sess.LastActivity = at
			return nil
		}
	}
	return fmt.Errorf("%w: session %s", ErrNotFound, id)
}

func (s *memSessionStore) Invalidate(_ context.Context, tokenHash string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if sess, ok := s.sessions[tokenHash]; ok {
		sess.IsActive = false
	}
	return nil
}

func (s *memSessionStore) InvalidateAllForUser(_ context.Context, userID string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			sess.IsActive = false
		}
	}
	return nil
}

// Override store -----------------------------------------------------------

type memOverrideStore MemStore

func (s *memOverrideStore) Create(_ context.Context, o *PermissionOverride) error {
	s.ovrMu.Lock()
	defer s.ovrMu.Unlock()
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.overrides[o.UserID] = append(s.overrides[o.UserID], *o)
	return nil
}

func (s *memOverrideStore) ListForUser(_ context.Context, userID string) ([]PermissionOverride, error) {
	s.ovrMu.RLock()
	defer s.ovrMu.RUnlock()
	src := s.overrides[userID]
	out := make([]PermissionOverride, len(src))
	copy(out, src)
	return out, nil
}

func (s *memOverrideStore) Delete(_ context.Context, userID, permissionKey string) error {
	s.ovrMu.Lock()
	defer s.ovrMu.Unlock()
	src := s.overrides[userID]
	kept := src[:0]
	for _, o := range src {
		if o.PermissionKey != permissionKey {
			kept = append(kept, o)
		}
	}
	s.overrides[userID] = kept
	return nil
}

// Audit store --------------------------------------------------------------

type memAuditStore MemStore

func (s *memAuditStore) Append(_ context.Context, rec *AuditRecord) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.audits[rec.OrganizationID] = append(s.audits[rec.OrganizationID], *rec)
	return nil
}

func (s *memAuditStore) ListByOrg(_ context.Context, orgID string, offset, limit int) ([]AuditRecord, error) {
	s.auditMu.RLock()
	defer s.auditMu.RUnlock()
	src := s.audits[orgID]
	// Newest first, matching the SQL store.
	out := make([]AuditRecord, len(src))
	for i, rec := range src {
		out[len(src)-1-i] = rec
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
