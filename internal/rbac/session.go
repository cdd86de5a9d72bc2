package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultSessionTTL = 24 * time.Hour

// SessionManager issues, validates and invalidates sessions. A session moves
// Created -> Active -> (Expired | Invalidated); Active is re-entered on every
// successful validation, which bumps LastActivity. ExpiresAt is fixed at
// creation, activity does not extend the session. Expiry is lazy: it is
// checked on the next use rather than swept proactively.
type SessionManager struct {
	store  Store
	signer *TokenSigner
	ttl    time.Duration
	now    func() time.Time
}

// SessionOption configures SessionManager behavior.
type SessionOption func(*SessionManager)

// WithSessionTTL overrides the fixed session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(store Store, signer *TokenSigner, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if signer == nil {
		return nil, errors.New("token signer is required")
	}
	m := &SessionManager{store: store, signer: signer, ttl: defaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create issues a token and persists the session record for an active user.
func (m *SessionManager) Create(ctx context.Context, user *User, ip, userAgent string) (*Session, string, error) {
	if user == nil || !user.IsActive() {
		return nil, "", ErrUnauthenticated
	}
	token, exp, err := m.signer.Sign(user.ID, user.OrganizationID, user.RoleID, m.ttl)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	now := m.now().UTC()
	session := &Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		TokenHash:    hashToken(token),
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    exp,
		IsActive:     true,
	}
	if err := m.store.Sessions(ctx).Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("persist session: %w", err)
	}
	return session, token, nil
}

// Validate resolves a token to its user. Both the session and the user must
// still be valid: a user deactivated or locked mid-session loses access
// before the session's natural expiry.
func (m *SessionManager) Validate(ctx context.Context, token string) (*User, *Session, error) {
	if _, err := m.signer.Verify(token); err != nil {
		return nil, nil, ErrUnauthenticated
	}
	session, err := m.store.Sessions(ctx).FindByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	now := m.now().UTC()
	if !session.IsActive || now.After(session.ExpiresAt) {
		return nil, nil, ErrUnauthenticated
	}
	user, err := m.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, fmt.Errorf("find session user: %w", err)
	}
	if !user.IsActive() {
		return nil, nil, ErrUnauthenticated
	}
	if user.LockedAt(now) {
		return nil, nil, ErrAccountLocked
	}
	if err := m.store.Sessions(ctx).Touch(ctx, session.ID, now); err != nil {
		return nil, nil, fmt.Errorf("touch session: %w", err)
	}
	session.LastActivity = now
	return user, session, nil
}

// Invalidate deactivates the session for a token. It is idempotent:
// invalidating an already-inactive or unknown session is a no-op success.
func (m *SessionManager) Invalidate(ctx context.Context, token string) (bool, error) {
	if err := m.store.Sessions(ctx).Invalidate(ctx, hashToken(token)); err != nil {
		return false, fmt.Errorf("invalidate session: %w", err)
	}
	return true, nil
}

// InvalidateAllForUser force-logs-out every session of a user.
func (m *SessionManager) InvalidateAllForUser(ctx context.Context, userID string) error {
	return m.store.Sessions(ctx).InvalidateAllForUser(ctx, userID)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
