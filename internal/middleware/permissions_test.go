package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHasPermission_WildcardsAndExact(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"star", []string{"*"}, "automations.write", true},
		{"exact", []string{"automations.read"}, "automations.read", true},
		{"prefixStar", []string{"tasks.*"}, "tasks.read", true},
		{"prefixStarNested", []string{"tasks.*"}, "tasks.write", true},
		{"noMatch", []string{"tasks.read"}, "automations.read", false},
		{"prefixIsNotSubstring", []string{"task.*"}, "tasks.read", false},
		{"emptyRequired", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.granted, tt.required))
		})
	}
}

func withContext(key string, val interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(key, val)
		c.Next()
	}
}

func TestRequireResourcePermission_ReadWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withContext(ContextPermissions, []string{"automations.read"}))
	r.Use(RequireResourcePermission("automations"))
	r.GET("/rules", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	r.POST("/rules", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rules", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rules", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRolesAny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct {
		roles []string
		want  int
	}{
		{[]string{"admin"}, http.StatusOK},
		{[]string{"member", "owner"}, http.StatusOK},
		{[]string{"member"}, http.StatusForbidden},
		{nil, http.StatusForbidden},
	} {
		r := gin.New()
		r.Use(withContext(ContextRoles, tc.roles), RequireRolesAny("owner", "admin"))
		r.POST("/scan", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scan", nil))
		assert.Equal(t, tc.want, w.Code, "%v", tc.roles)
	}
}
