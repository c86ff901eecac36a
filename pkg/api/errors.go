package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// errorBody is the uniform error envelope: every non-2xx response
// nests its detail under "error" so clients can check one shape regardless
// of which endpoint failed.
type errorBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Status            int    `json:"status"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
		Code: code, Message: message, Status: status,
	}})
}

func writeRetryableError(c *gin.Context, status int, code, message string, retryAfterSeconds int) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
		Code: code, Message: message, Status: status,
		Retryable: true, RetryAfterSeconds: retryAfterSeconds,
	}})
}

// writeDomainError maps the sentinel errors this domain's stores and
// services return to an HTTP status, logging anything unrecognised as a
// 500 — the one branch where the underlying cause isn't safe to mirror
// back to the caller verbatim.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, lifecycle.ErrProjectPathMissing):
		writeError(c, http.StatusUnprocessableEntity, "project_path_missing", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeRetryableError(c, http.StatusRequestTimeout, "timeout", "operation timed out", 5)
	default:
		s.log.Error("api: unhandled error", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
