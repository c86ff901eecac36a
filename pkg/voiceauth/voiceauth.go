// Package voiceauth implements the voice bridge's token authentication and
// sliding-window rate limiting. The voice feature itself is out of
// scope; this package is mounted only on a diagnostic probe route so the
// auth/rate-limit behavior stays exercised. Ported from
// original_source/.../voice_auth.py.
package voiceauth

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const rateLimitWindow = time.Minute

// Config controls token requirements and rate limiting.
type Config struct {
	Token             string
	LocalhostBypass   bool
	RequestsPerMinute int
}

// Auth validates bearer tokens against a single shared token and applies a
// per-token sliding-window rate limit.
type Auth struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	requestTimes map[string][]time.Time
}

// New builds an Auth from cfg.
func New(cfg Config, log *slog.Logger) *Auth {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &Auth{cfg: cfg, log: log, requestTimes: make(map[string][]time.Time)}
}

// Reload replaces the Auth's config without requiring a restart.
func (a *Auth) Reload(cfg Config) {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func isLocalhost(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// checkRateLimit reports whether a request for token is within the
// sliding one-minute window, recording this request's timestamp if so.
func (a *Auth) checkRateLimit(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rateLimitWindow)

	kept := a.requestTimes[token][:0]
	for _, ts := range a.requestTimes[token] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= a.cfg.RequestsPerMinute {
		a.requestTimes[token] = kept
		return false
	}
	a.requestTimes[token] = append(kept, now)
	return true
}

type voiceResponse struct {
	StatusLine string   `json:"status_line"`
	Results    []string `json:"results"`
	NextAction string   `json:"next_action"`
}

func deny(c *gin.Context, status int, statusLine, nextAction, errCode string) {
	c.AbortWithStatusJSON(status, gin.H{
		"voice": voiceResponse{StatusLine: statusLine, Results: []string{}, NextAction: nextAction},
		"error": errCode,
	})
}

// Middleware returns gin middleware enforcing voice bridge authentication.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		a.mu.Lock()
		cfg := a.cfg
		a.mu.Unlock()

		if cfg.LocalhostBypass && isLocalhost(c.Request.RemoteAddr) {
			a.logAccess(c, "bypass_localhost", 0)
			c.Next()
			return
		}

		if cfg.Token == "" {
			a.logAccess(c, "no_token_configured", 0)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logAccess(c, "missing_token", 0)
			deny(c, 401, "Authentication required.", "Include a valid Bearer token in the Authorization header.", "missing_token")
			return
		}

		provided := strings.TrimPrefix(authHeader, "Bearer ")
		if provided != cfg.Token {
			a.logAccess(c, "invalid_token", 0)
			deny(c, 401, "Invalid authentication token.", "Check your token and try again.", "invalid_token")
			return
		}

		if !a.checkRateLimit(provided) {
			a.logAccess(c, "rate_limited", 0)
			deny(c, 429, "Too many requests. Please wait a moment.", "Try again in a few seconds.", "rate_limited")
			return
		}

		a.logAccess(c, "authenticated", time.Since(start))
		c.Next()
	}
}

func (a *Auth) logAccess(c *gin.Context, authStatus string, latency time.Duration) {
	attrs := []any{
		"endpoint", c.Request.URL.Path,
		"method", c.Request.Method,
		"source_ip", c.ClientIP(),
		"agent_id", c.Param("agent_id"),
		"auth_status", authStatus,
	}
	if latency > 0 {
		attrs = append(attrs, "latency_ms", float64(latency.Microseconds())/1000.0)
	}
	a.log.Info("voice_bridge_access", attrs...)
}
