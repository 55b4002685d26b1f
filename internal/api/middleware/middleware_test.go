package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newEngine(cfg AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestTracing(zap.NewNop()), APIKeyAuth(cfg, zap.NewNop()))
	r.GET("/api/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func do(r http.Handler, header, value string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	r.ServeHTTP(rr, req)
	return rr
}

func TestAPIKeyAuth(t *testing.T) {
	r := newEngine(AuthConfig{Enabled: true, APIKeys: []string{"sk_test_12345678"}})

	assert.Equal(t, http.StatusUnauthorized, do(r, "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "sk_test_12345678").Code)
	assert.Equal(t, http.StatusOK, do(r, "Authorization", "Bearer sk_test_12345678").Code)
}

func TestAPIKeyAuthDisabled(t *testing.T) {
	r := newEngine(AuthConfig{Enabled: false})
	assert.Equal(t, http.StatusOK, do(r, "", "").Code)
}

func TestRequestTracing(t *testing.T) {
	r := newEngine(AuthConfig{})
	rr := do(r, "X-Request-ID", "req-1")
	assert.Equal(t, "req-1", rr.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, do(r, "", "").Header().Get("X-Request-ID"))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "sk_t****5678", maskAPIKey("sk_test_12345678"))
}
