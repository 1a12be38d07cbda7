package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer signs HS256 tokens for portal clients and local staff logins.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}
}

// IssueClientToken returns a token with role client bound to clientID.
func (i *TokenIssuer) IssueClientToken(tenantID string, clientID uuid.UUID) (string, time.Time, error) {
	return i.issue(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: clientID.String()},
		TenantID:         tenantID,
		Roles:            []string{RoleClient},
		ClientID:         clientID.String(),
	})
}

// IssueStaffToken returns a token for a staff member with the given roles.
func (i *TokenIssuer) IssueStaffToken(tenantID string, staffID uuid.UUID, roles []string) (string, time.Time, error) {
	return i.issue(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: staffID.String()},
		TenantID:         tenantID,
		Roles:            roles,
	})
}

func (i *TokenIssuer) issue(claims *Claims) (string, time.Time, error) {
	if len(i.key) == 0 {
		return "", time.Time{}, fmt.Errorf("token signing key not configured")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims.Issuer = LocalIssuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}
