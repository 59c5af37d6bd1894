package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/echosphere/backend/internal/auth"
	"github.com/echosphere/backend/internal/models"
)

func newRouter(jwt *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", JWT(jwt))
	g.GET("/me", func(c *gin.Context) {
		id, role := Caller(c)
		c.String(http.StatusOK, id.String()+" "+string(role))
	})
	g.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func serve(r *gin.Engine, path, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)
	u := &models.User{ID: uuid.New(), Role: models.RoleUser}
	token, _ := svc.Generate(u)

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "Token "+token).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/me", "Bearer nope").Code)

	w := serve(r, "/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.ID.String()+" user", w.Body.String())
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)
	user, _ := svc.Generate(&models.User{ID: uuid.New(), Role: models.RoleUser})
	admin, _ := svc.Generate(&models.User{ID: uuid.New(), Role: models.RoleAdmin})

	assert.Equal(t, http.StatusForbidden, serve(r, "/admin", "Bearer "+user).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "/admin", "Bearer "+admin).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://localhost:3000, https://replay.example.com/"))
	r.GET("/recordings", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/recordings", nil)
	req.Header.Set("Origin", "https://replay.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://replay.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/recordings", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowAll(t *testing.T) {
	allowAll, _ := parseOrigins("*")
	assert.True(t, allowAll)
	allowAll, _ = parseOrigins("")
	assert.True(t, allowAll)
	allowAll, origins := parseOrigins("http://a.test")
	assert.False(t, allowAll)
	assert.True(t, origins["http://a.test"])
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
}
