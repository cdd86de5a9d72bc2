package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSessionManager(t *testing.T, store *MemStore, now *time.Time) *SessionManager {
	t.Helper()
	clock := func() time.Time { return *now }
	signer, err := NewTokenSigner("test-secret", WithSignerClock(clock))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	m, err := NewSessionManager(store, signer, WithSessionClock(clock), WithSessionTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return m
}

func TestSessionCreateAndValidate(t *testing.T) {
	now := testClock
	store := NewMemStore()
	user := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	m := newTestSessionManager(t, store, &now)

	session, token, err := m.Create(context.Background(), user, "10.0.0.1", "cli/1.0")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if token == "" || session.TokenHash == "" {
		t.Fatalf("expected token and hash, got %+v", session)
	}
	if session.TokenHash == token {
		t.Fatalf("raw token must not be stored")
	}
	if !session.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", session.ExpiresAt)
	}

	now = now.Add(10 * time.Minute)
	got, validated, err := m.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("resolved wrong user: %s", got.ID)
	}
	if !validated.LastActivity.Equal(now) {
		t.Fatalf("validation should bump last activity, got %v", validated.LastActivity)
	}
	// ExpiresAt is fixed at creation; activity does not extend it.
	if !validated.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("activity must not move expiry: %v", validated.ExpiresAt)
	}
}

func TestSessionExpiresLazily(t *testing.T) {
	now := testClock
	store := NewMemStore()
	user := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	m := newTestSessionManager(t, store, &now)

	_, token, err := m.Create(context.Background(), user, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after expiry, got %v", err)
	}
}

func TestSessionInvalidateIsIdempotent(t *testing.T) {
	now := testClock
	store := NewMemStore()
	user := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	m := newTestSessionManager(t, store, &now)

	_, token, err := m.Create(context.Background(), user, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 2; i++ {
		ok, err := m.Invalidate(context.Background(), token)
		if err != nil || !ok {
			t.Fatalf("Invalidate #%d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if _, _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after invalidation, got %v", err)
	}
	// Unknown token invalidation is still a no-op success.
	if ok, err := m.Invalidate(context.Background(), "never-issued"); err != nil || !ok {
		t.Fatalf("unknown token: ok=%v err=%v", ok, err)
	}
}

func TestSessionRejectsDeactivatedUser(t *testing.T) {
	now := testClock
	store := NewMemStore()
	user := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	m := newTestSessionManager(t, store, &now)

	_, token, err := m.Create(context.Background(), user, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Users(context.Background()).SetStatus(context.Background(), user.ID, UserStatusDisabled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("deactivated user must lose the session, got %v", err)
	}
}

func TestSessionRejectsLockedUser(t *testing.T) {
	now := testClock
	store := NewMemStore()
	user := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	m := newTestSessionManager(t, store, &now)

	_, token, err := m.Create(context.Background(), user, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.Users(context.Background()).RecordLoginFailure(context.Background(), user.ID, 5, 30*time.Minute, now); err != nil {
			t.Fatalf("RecordLoginFailure: %v", err)
		}
	}
	if _, _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked user must be rejected with ErrAccountLocked, got %v", err)
	}
}

func TestSessionCreateRequiresActiveUser(t *testing.T) {
	now := testClock
	store := NewMemStore()
	m := newTestSessionManager(t, store, &now)

	disabled := &User{ID: "u-1", OrganizationID: "org-1", Status: UserStatusDisabled}
	if _, _, err := m.Create(context.Background(), disabled, "", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, _, err := m.Create(context.Background(), nil, "", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for nil user, got %v", err)
	}
}

func TestInvalidateAllForUser(t *testing.T) {
	now := testClock
	store := NewMemStore()
	user := seedUser(t, store, "org-1", "agent@example.com", RoleAgent)
	m := newTestSessionManager(t, store, &now)

	_, first, err := m.Create(context.Background(), user, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, second, err := m.Create(context.Background(), user, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.InvalidateAllForUser(context.Background(), user.ID); err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}
	for _, token := range []string{first, second} {
		if _, _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected all sessions invalidated, got %v", err)
		}
	}
}
