package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	ClientIDKey  contextKey = "client_id"
	tokenKey     contextKey = "token"
)

// LocalIssuer is the iss claim on tokens this service signs itself.
const LocalIssuer = "mentalspace-ehr"

// Claims carries the identity of a staff user or, when ClientID is set, a
// portal client.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	ClientID string   `json:"client_id,omitempty"`
}

type JWTConfig struct {
	// Issuer and Audience apply to tokens from the external identity provider.
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey verifies HS256 tokens issued by this service (portal and local staff logins).
	SigningKey []byte
	// Revocations, when set, rejects tokens that were logged out.
	Revocations RevocationStore
}

// JWKSKey represents a single JSON Web Key from a JWKS endpoint.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the response from a JWKS endpoint.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches JWKS keys fetched from a remote endpoint with a configurable TTL.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

// NewJWKSCache creates a new JWKS cache that fetches keys from the given URL.
func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the RSA public key for the given kid, refetching on miss or expiry.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

// keyFunc picks the verification key by algorithm: HMAC tokens are ours,
// RSA tokens come from the identity provider.
func keyFunc(cfg JWTConfig, jwks *JWKSCache) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(cfg.SigningKey) == 0 {
				return nil, fmt.Errorf("local tokens are not accepted")
			}
			return cfg.SigningKey, nil
		case *jwt.SigningMethodRSA:
			if jwks == nil {
				return nil, fmt.Errorf("no JWKS configured")
			}
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("token has no kid header")
			}
			return jwks.GetKey(kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
	}
}

// ParseToken verifies tokenStr and checks issuer/audience for its origin.
func ParseToken(cfg JWTConfig, jwks *JWKSCache, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc(cfg, jwks),
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if _, local := token.Method.(*jwt.SigningMethodHMAC); local {
		if claims.Issuer != LocalIssuer {
			return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
		}
		return claims, nil
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if cfg.Audience != "" && !hasAudience(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("token not issued for %q", cfg.Audience)
	}
	if claims.ClientID != "" {
		return nil, fmt.Errorf("client tokens must be issued locally")
	}
	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	if cfg.JWKSURL != "" {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				// Browsers cannot set headers on a websocket handshake.
				if tok := c.QueryParam("access_token"); tok != "" && c.IsWebSocket() {
					authHeader = "Bearer " + tok
				} else {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
				}
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := ParseToken(cfg, jwks, parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if cfg.Revocations != nil && claims.ID != "" {
				revoked, err := cfg.Revocations.IsRevoked(c.Request().Context(), claims.ID)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "token revocation check unavailable").SetInternal(err)
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
				}
			}

			setIdentity(c, claims)
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, claims *Claims) {
	// Read by the tenant middleware.
	c.Set("jwt_tenant_id", claims.TenantID)

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
	if claims.ClientID != "" {
		ctx = context.WithValue(ctx, ClientIDKey, claims.ClientID)
	}
	if claims.ID != "" && claims.ExpiresAt != nil {
		ctx = WithToken(ctx, TokenInfo{ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time})
	}
	c.SetRequest(c.Request().WithContext(ctx))
}

// TokenInfo identifies the bearer token of the current request.
type TokenInfo struct {
	ID        string
	ExpiresAt time.Time
}

// TokenFromContext returns the verified token's id and expiry.
func TokenFromContext(ctx context.Context) (TokenInfo, bool) {
	t, ok := ctx.Value(tokenKey).(TokenInfo)
	return t, ok
}

// DevAuthMiddleware grants unauthenticated requests admin access on the
// default tenant. Requests that carry a token are passed to verify.
func DevAuthMiddleware(defaultTenant string, verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			setIdentity(c, &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-user"},
				TenantID:         defaultTenant,
				Roles:            []string{RoleAdmin},
			})
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// UserUUIDFromContext parses the subject as a staff id. Non-UUID subjects
// (external IdP users, the dev user) yield false.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// ClientIDFromContext returns the portal client bound to the token, if any.
func ClientIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	raw, _ := ctx.Value(ClientIDKey).(string)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithIdentity returns ctx carrying a user id and roles. Used by the worker
// and by tests that bypass the HTTP middleware.
func WithIdentity(ctx context.Context, userID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

// WithClient returns ctx carrying a portal client identity.
func WithClient(ctx context.Context, clientID uuid.UUID) context.Context {
	ctx = WithIdentity(ctx, clientID.String(), RoleClient)
	return context.WithValue(ctx, ClientIDKey, clientID.String())
}

// WithToken returns ctx carrying the bearer token's id and expiry.
func WithToken(ctx context.Context, t TokenInfo) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}
