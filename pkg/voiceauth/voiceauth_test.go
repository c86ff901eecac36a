package voiceauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(a *Auth) *gin.Engine {
	r := gin.New()
	r.GET("/api/voice/_auth_probe", a.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doRequest(router *gin.Engine, remoteAddr, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/voice/_auth_probe", nil)
	req.RemoteAddr = remoteAddr + ":12345"
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ValidToken(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5}, nil)
	rec := doRequest(newRouter(a), "192.168.1.1", "Bearer test-secret-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_MissingAuthorizationHeader(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: false, RequestsPerMinute: 60}, nil)
	rec := doRequest(newRouter(a), "192.168.1.1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_token")
}

func TestMiddleware_InvalidToken(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: false, RequestsPerMinute: 60}, nil)
	rec := doRequest(newRouter(a), "192.168.1.1", "Bearer wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")
}

func TestMiddleware_NonBearerAuth(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: false, RequestsPerMinute: 60}, nil)
	rec := doRequest(newRouter(a), "192.168.1.1", "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_LocalhostIPv4Bypass(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5}, nil)
	rec := doRequest(newRouter(a), "127.0.0.1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_LocalhostIPv6Bypass(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5}, nil)
	rec := doRequest(newRouter(a), "::1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_LocalhostBypassDisabled(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: false, RequestsPerMinute: 60}, nil)
	rec := doRequest(newRouter(a), "127.0.0.1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_NoTokenConfiguredAllowsAll(t *testing.T) {
	a := New(Config{Token: "", LocalhostBypass: false, RequestsPerMinute: 60}, nil)
	rec := doRequest(newRouter(a), "192.168.1.1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RateLimitAllowsWithinLimit(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5}, nil)
	router := newRouter(a)
	for i := 0; i < 5; i++ {
		rec := doRequest(router, "192.168.1.1", "Bearer test-secret-token")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMiddleware_RateLimitBlocksOverLimit(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5}, nil)
	router := newRouter(a)
	for i := 0; i < 5; i++ {
		doRequest(router, "192.168.1.1", "Bearer test-secret-token")
	}
	rec := doRequest(router, "192.168.1.1", "Bearer test-secret-token")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestMiddleware_RateLimitWindowExpires(t *testing.T) {
	a := New(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5}, nil)
	router := newRouter(a)

	old := time.Now().Add(-61 * time.Second)
	a.mu.Lock()
	a.requestTimes["test-secret-token"] = []time.Time{old, old, old, old, old}
	a.mu.Unlock()

	rec := doRequest(router, "192.168.1.1", "Bearer test-secret-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReload(t *testing.T) {
	a := New(Config{}, nil)
	require.Equal(t, "", a.cfg.Token)
	a.Reload(Config{Token: "test-secret-token", LocalhostBypass: true, RequestsPerMinute: 5})
	assert.Equal(t, "test-secret-token", a.cfg.Token)
	assert.Equal(t, 5, a.cfg.RequestsPerMinute)
}

func TestNew_Defaults(t *testing.T) {
	a := New(Config{}, nil)
	assert.Equal(t, "", a.cfg.Token)
	assert.Equal(t, 60, a.cfg.RequestsPerMinute)
}
