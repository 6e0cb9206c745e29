package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"complyhub/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{JWT: config.JWTConfig{Secret: testSecret, Issuer: "complyhub", ExpiresIn: time.Hour}}
}

func authRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id":   c.GetString(ContextTenantID),
			"user_id":     c.GetString(ContextUserID),
			"email":       c.GetString(ContextUserEmail),
			"roles":       c.GetStringSlice(ContextRoles),
			"permissions": c.GetStringSlice(ContextPermissions),
		})
	})
	return r
}

func call(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_InjectsTenantIdentity(t *testing.T) {
	cfg := testConfig()
	tm, err := NewTokenManager(cfg.JWT)
	require.NoError(t, err)
	token, err := tm.Issue(time.Now(), "u1", "t1", "u1@example.com", "member", "member")
	require.NoError(t, err)

	w := call(authRouter(cfg), token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		TenantID    string   `json:"tenant_id"`
		UserID      string   `json:"user_id"`
		Email       string   `json:"email"`
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "t1", body.TenantID)
	assert.Equal(t, "u1", body.UserID)
	assert.Equal(t, "u1@example.com", body.Email)
	assert.Equal(t, []string{"member"}, body.Roles)
	assert.Contains(t, body.Permissions, "automations.read")
	assert.NotContains(t, body.Permissions, "*")
}

func TestAuthMiddleware_RBACFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RBAC = config.RBACConfig{Enabled: true, Roles: map[string][]string{"auditor": {"automations.read"}}}
	tm, _ := NewTokenManager(cfg.JWT)
	token, err := tm.Issue(time.Now(), "u1", "t1", "", "auditor", "admin")
	require.NoError(t, err)

	w := call(authRouter(cfg), token)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []interface{}{"automations.read"}, body["permissions"], "configured table replaces defaults")
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	cfg := testConfig()
	r := authRouter(cfg)
	tm, _ := NewTokenManager(cfg.JWT)
	now := time.Now()

	expired, _ := tm.Issue(now.Add(-3*time.Hour), "u1", "t1", "")
	otherKey, _ := (&TokenManager{secret: []byte("other"), issuer: "complyhub", ttl: time.Hour}).Issue(now, "u1", "t1", "")
	wrongIssuer, _ := (&TokenManager{secret: []byte(testSecret), issuer: "someone-else", ttl: time.Hour}).Issue(now, "u1", "t1", "")
	noTenant, _ := tm.Issue(now, "u1", "", "")
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		TenantID:         "t1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"missing":      "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": wrongIssuer,
		"no tenant":    noTenant,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, call(r, token).Code)
		})
	}
}

func TestAuthMiddleware_NoSecretConfigured(t *testing.T) {
	w := call(authRouter(&config.Config{}), "anything")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	_, err := NewTokenManager(config.JWTConfig{})
	assert.Error(t, err)
}
