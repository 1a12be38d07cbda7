package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryRevocationStore_RevokeAndCheck(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := store.IsRevoked(ctx, "jti-1"); !ok {
		t.Error("expected jti-1 to be revoked")
	}
	if ok, _ := store.IsRevoked(ctx, "jti-2"); ok {
		t.Error("expected unknown jti to pass")
	}
}

func TestMemoryRevocationStore_ExpiredEntriesPruned(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Revoke(ctx, "short", now.Add(time.Minute))
	_ = store.Revoke(ctx, "already-expired", now.Add(-time.Minute))
	if store.Count() != 1 {
		t.Fatalf("expected only the live token stored, got %d", store.Count())
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := store.IsRevoked(ctx, "short"); ok {
		t.Error("expired revocation should no longer match")
	}
	_ = store.Revoke(ctx, "long", now.Add(time.Hour))
	if store.Count() != 1 {
		t.Errorf("expected expired entry pruned, got %d entries", store.Count())
	}
}

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string, time.Time) error { return nil }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestJWTMiddleware_RevokedTokenRejected(t *testing.T) {
	store := NewMemoryRevocationStore()
	token, exp, err := NewTokenIssuer(testSigningKey, time.Hour).IssueStaffToken("north_clinic", uuid.New(), []string{RoleClinician})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Revocations: store})

	c, err := runMiddleware(t, mw, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error before logout: %v", err)
	}
	info, ok := TokenFromContext(c.Request().Context())
	if !ok || info.ID == "" || !info.ExpiresAt.Equal(exp.Truncate(time.Second)) {
		t.Fatalf("expected token info in context, got %+v (ok=%v)", info, ok)
	}

	if err := store.Revoke(context.Background(), info.ID, info.ExpiresAt); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err = runMiddleware(t, mw, "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RevocationCheckFailureIsUnavailable(t *testing.T) {
	token, _, err := NewTokenIssuer(testSigningKey, time.Hour).IssueStaffToken("north_clinic", uuid.New(), []string{RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Revocations: failingRevocations{}})
	_, err = runMiddleware(t, mw, "Bearer "+token)
	expectStatus(t, err, http.StatusServiceUnavailable)
}
