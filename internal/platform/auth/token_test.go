package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTokenIssuer_ClientToken(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, 30*time.Minute)
	fixed := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	clientID := uuid.New()
	token, exp, err := issuer.IssueClientToken("north_clinic", clientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exp.Equal(fixed.Add(30 * time.Minute)) {
		t.Errorf("unexpected expiry %v", exp)
	}

	claims, err := ParseToken(JWTConfig{SigningKey: testSigningKey}, nil, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ClientID != clientID.String() || claims.Subject != clientID.String() {
		t.Errorf("unexpected identity %+v", claims)
	}
	if claims.TenantID != "north_clinic" {
		t.Errorf("expected tenant north_clinic, got %s", claims.TenantID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleClient {
		t.Errorf("expected client role, got %v", claims.Roles)
	}
}

func TestTokenIssuer_StaffToken(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, time.Hour)
	staffID := uuid.New()
	token, _, err := issuer.IssueStaffToken("north_clinic", staffID, []string{RoleClinician, RoleSupervisor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := ParseToken(JWTConfig{SigningKey: testSigningKey}, nil, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ClientID != "" {
		t.Error("staff token must not carry a client id")
	}
	if len(claims.Roles) != 2 {
		t.Errorf("expected 2 roles, got %v", claims.Roles)
	}
}

func TestTokenIssuer_NoKey(t *testing.T) {
	issuer := NewTokenIssuer(nil, time.Hour)
	if _, _, err := issuer.IssueClientToken("t", uuid.New()); err == nil {
		t.Error("expected error without signing key")
	}
}
