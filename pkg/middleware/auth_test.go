package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func adminRouter(token string) *gin.Engine {
	r := gin.New()
	r.Use(AdminAuthMiddleware(token))
	r.POST("/p", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	return r
}

func TestAdminAuthMiddleware_RejectsMissingAndWrongTokens(t *testing.T) {
	r := adminRouter("sekrit")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/p", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("POST", "/p", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("POST", "/p", nil)
	req.Header.Set("Authorization", "sekrit") // missing Bearer prefix
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthMiddleware_AcceptsValidToken(t *testing.T) {
	r := adminRouter("sekrit")

	req := httptest.NewRequest("POST", "/p", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthMiddleware_EmptyTokenDisablesCheck(t *testing.T) {
	r := adminRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/p", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
