package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"complyhub/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by AuthMiddleware.
const (
	ContextTenantID    = "tenant_id"
	ContextUserID      = "user_id"
	ContextUserEmail   = "user_email"
	ContextRoles       = "roles"
	ContextPermissions = "permissions"
)

// Claims is the access token shape. TenantID is mandatory: every request is
// scoped to exactly one organization.
type Claims struct {
	jwt.RegisteredClaims

	TenantID string   `json:"tenant_id"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Perms    []string `json:"perms,omitempty"`
}

// TokenManager issues and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenManager(cfg config.JWTConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	ttl := cfg.ExpiresIn
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: ttl}, nil
}

// Issue signs a token for userID inside tenantID.
func (m *TokenManager) Issue(now time.Time, userID, tenantID, email string, roles ...string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: tenantID,
		Email:    email,
		Roles:    roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses token and checks signature, expiry, issuer and the tenant claims.
func (m *TokenManager) Verify(token string, now time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("sub missing")
	}
	if claims.TenantID == "" {
		return nil, errors.New("tenant_id missing")
	}
	return &claims, nil
}

// defaultRolePermissions applies when RBAC is not configured explicitly.
var defaultRolePermissions = map[string][]string{
	"owner": {"*"},
	"admin": {"*"},
	"member": {
		"automations.read",
		"tasks.*",
		"certificates.*",
		"notifications.*",
		"members.read",
	},
}

// AuthMiddleware enforces Authorization: Bearer <jwt> on protected routes and
// injects tenant_id, user_id, user_email, roles and permissions.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	var (
		tm   *TokenManager
		rbac config.RBACConfig
	)
	if cfg != nil {
		tm, _ = NewTokenManager(cfg.JWT)
		rbac = cfg.Security.RBAC
	}
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" && tm != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "missing bearer token",
			})
			return
		}
		if token == "" || tm == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "invalid token or server misconfig",
			})
			return
		}
		claims, err := tm.Verify(token, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": err.Error(),
			})
			return
		}

		c.Set(ContextTenantID, claims.TenantID)
		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextUserEmail, claims.Email)
		roles := dedupeStrings(claims.Roles)
		c.Set(ContextRoles, roles)

		perms := append([]string(nil), claims.Perms...)
		table := defaultRolePermissions
		if rbac.Enabled {
			table = rbac.Roles
		}
		for _, role := range roles {
			perms = append(perms, table[role]...)
		}
		if perms = dedupeStrings(perms); len(perms) > 0 {
			c.Set(ContextPermissions, perms)
		}

		c.Next()
	}
}

// bearerToken reads the Authorization header. Websocket upgrades may pass
// ?access_token= instead since browsers cannot set headers on them.
func bearerToken(c *gin.Context) string {
	ah := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("Bearer "):])
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("access_token")
	}
	return ""
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
