// Package apicall implements the API call logger: gin middleware
// that captures method/path/status/latency plus sanitised, size-capped
// request/response bodies for every HTTP transaction on a declared set of
// path prefixes, persists them, and broadcasts an api_call_logged event.
package apicall

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/guardrail"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// MaxBodyBytes caps how much of a request/response body is persisted.
const MaxBodyBytes = 1 << 20 // 1 MiB

const truncationSentinel = "\n...[truncated]"

// AuthStatusKey is the gin context key earlier middleware (e.g. voiceauth)
// sets to record how the request was authenticated. Absent means "none".
const AuthStatusKey = "apicall.auth_status"

// Logger persists HTTP transactions under a declared set of path prefixes.
type Logger struct {
	store        *store.APICallLogStore
	events       *eventwriter.Writer
	pathPrefixes []string
	sanitiser    *guardrail.Sanitiser
	log          *slog.Logger
}

// New builds a Logger. A request's path must start with one of pathPrefixes
// to be logged; an empty list logs nothing. sanitiser strips HTML/script
// markup and configured secret patterns from captured bodies before they
// reach storage, since a logged body is arbitrary request/response
// content, not text this process produced itself.
func New(s *store.APICallLogStore, events *eventwriter.Writer, pathPrefixes []string, sanitiser *guardrail.Sanitiser, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: s, events: events, pathPrefixes: pathPrefixes, sanitiser: sanitiser, log: log}
}

func (l *Logger) matches(path string) bool {
	for _, prefix := range l.pathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type bodyCaptureWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	if w.buf.Len() < MaxBodyBytes {
		w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Middleware returns gin middleware that logs matching requests.
func (l *Logger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.matches(c.Request.URL.Path) {
			c.Next()
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(reqBody), c.Request.Body))
		}

		respBuf := &bytes.Buffer{}
		c.Writer = &bodyCaptureWriter{ResponseWriter: c.Writer, buf: respBuf}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		authStatus, _ := c.Get(AuthStatusKey)
		authStatusStr, _ := authStatus.(string)
		if authStatusStr == "" {
			authStatusStr = "none"
		}

		entry := &models.APICallLog{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Status:     c.Writer.Status(),
			LatencyMS:  int(latency.Milliseconds()),
			AuthStatus: authStatusStr,
		}
		if sanitised := l.sanitiseBody(reqBody); sanitised != "" {
			entry.RequestBody = &sanitised
		}
		if sanitised := l.sanitiseBody(respBuf.Bytes()); sanitised != "" {
			entry.ResponseBody = &sanitised
		}

		l.persist(c.Request.Context(), entry)
	}
}

func (l *Logger) sanitiseBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	truncated := false
	if len(raw) > MaxBodyBytes {
		raw = raw[:MaxBodyBytes]
		truncated = true
	}
	var text string
	if l.sanitiser != nil {
		text = l.sanitiser.Sanitise(string(raw))
	} else {
		text = guardrail.SanitiseErrorOutput(string(raw))
	}
	if truncated {
		text += truncationSentinel
	}
	return text
}

func (l *Logger) persist(ctx context.Context, entry *models.APICallLog) {
	saved, err := l.store.Create(ctx, entry)
	if err != nil {
		l.log.Error("failed to persist api call log", "error", err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"id":          saved.ID,
		"method":      saved.Method,
		"path":        saved.Path,
		"status":      saved.Status,
		"latency_ms":  saved.LatencyMS,
		"auth_status": saved.AuthStatus,
	})
	if err != nil {
		l.log.Error("failed to marshal api call logged payload", "error", err)
		return
	}

	result := l.events.Write(ctx, eventwriter.Request{
		Type:    models.EventAPICallLogged,
		Payload: payload,
	})
	if !result.Success {
		l.log.Error("failed to write api_call_logged event", "error", result.Err)
	}
}

var _ http.ResponseWriter = (*bodyCaptureWriter)(nil)
