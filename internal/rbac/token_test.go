package rbac

import (
	"errors"
	"testing"
	"time"
)

func TestTokenSignAndVerify(t *testing.T) {
	signer, err := NewTokenSigner("test-secret", WithSignerIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, exp, err := signer.Sign("user-1", "org-1", RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.OrganizationID != "org-1" || claims.RoleID != RoleAgent {
		t.Fatalf("claims were not preserved: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
}

func TestTokenVerifyRejectsWrongSecret(t *testing.T) {
	signer, err := NewTokenSigner("secret-a")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	other, err := NewTokenSigner("secret-b")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, _, err := signer.Sign("user-1", "org-1", RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenVerifyRejectsExpired(t *testing.T) {
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, err := NewTokenSigner("test-secret", WithSignerClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, _, err := signer.Sign("user-1", "org-1", RoleAgent, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := signer.Verify(token); err != nil {
		t.Fatalf("token should be valid before expiry: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestTokenVerifyRejectsForeignIssuer(t *testing.T) {
	a, err := NewTokenSigner("test-secret", WithSignerIssuer("issuer-a"))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	b, err := NewTokenSigner("test-secret", WithSignerIssuer("issuer-b"))
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, _, err := a.Sign("user-1", "org-1", RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on issuer mismatch, got %v", err)
	}
}

func TestTokenSignerRequiresSecret(t *testing.T) {
	if _, err := NewTokenSigner("   "); err == nil {
		t.Fatalf("expected error on empty secret")
	}
	signer, err := NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	if _, _, err := signer.Sign("", "org-1", RoleAgent, time.Hour); err == nil {
		t.Fatalf("expected error on empty user id")
	}
	if _, _, err := signer.Sign("user-1", "org-1", RoleAgent, 0); err == nil {
		t.Fatalf("expected error on zero ttl")
	}
	if _, err := signer.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on empty token, got %v", err)
	}
	if _, err := signer.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on garbage, got %v", err)
	}
}
