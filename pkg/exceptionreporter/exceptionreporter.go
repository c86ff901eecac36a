// Package exceptionreporter forwards unhandled errors to an external
// incident webhook, best-effort. A send fires in its own goroutine
// with a hard timeout and never blocks or panics the caller; if the
// webhook is unreachable the service using this package keeps running.
// Ported from original_source/.../exception_reporter.py.
package exceptionreporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"
)

// Config controls whether reporting is active and where reports go.
type Config struct {
	Enabled         bool
	WebhookURL      string
	WebhookSecret   string
	Timeout         time.Duration
	RateLimitPerSec float64
}

// Report is the payload sent for a single reported error.
type Report struct {
	ExceptionType string         `json:"exception_type"`
	Message       string         `json:"message"`
	Traceback     string         `json:"traceback"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	Context       map[string]any `json:"context"`
}

// Sink delivers a Report somewhere. HTTPSink is the production
// implementation; tests supply their own to assert on delivered payloads
// without a network round trip.
type Sink interface {
	Send(ctx context.Context, r Report) error
}

// HTTPSink posts a Report as JSON to a webhook URL with a bearer secret.
type HTTPSink struct {
	URL    string
	Secret string
	Client *http.Client
}

func (h *HTTPSink) Send(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.Secret)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Reporter rate-limits and dispatches error reports through a Sink.
type Reporter struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// New builds a Reporter. Pass an *HTTPSink for production use.
func New(cfg Config, sink Sink, log *slog.Logger) *Reporter {
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		cfg:        cfg,
		sink:       sink,
		log:        log,
		tokens:     cfg.RateLimitPerSec,
		lastRefill: time.Now(),
	}
}

// IsConfigured reports whether reporting can actually fire: enabled, with
// both a webhook URL and secret present.
func (r *Reporter) IsConfigured() bool {
	return r.cfg.Enabled && r.cfg.WebhookURL != "" && r.cfg.WebhookSecret != ""
}

func (r *Reporter) tryConsumeToken() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	r.tokens += elapsed * r.cfg.RateLimitPerSec
	if r.tokens > r.cfg.RateLimitPerSec {
		r.tokens = r.cfg.RateLimitPerSec
	}
	r.lastRefill = now

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Report fires a best-effort, rate-limited send of err to the configured
// webhook. Returns immediately; the actual delivery happens in a
// background goroutine bounded by the reporter's configured timeout. A
// disabled or unconfigured reporter, and a rate-limited call, are both
// silent no-ops.
func (r *Reporter) Report(err error, source, severity string, context map[string]any) {
	if !r.IsConfigured() {
		return
	}
	if !r.tryConsumeToken() {
		r.log.Debug("exception report rate-limited, dropping")
		return
	}

	if context == nil {
		context = map[string]any{}
	}
	report := Report{
		ExceptionType: fmt.Sprintf("%T", err),
		Message:       err.Error(),
		Traceback:     string(debug.Stack()),
		Source:        source,
		Severity:      severity,
		Context:       context,
	}

	go r.send(report)
}

func (r *Reporter) send(report Report) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if sendErr := r.sink.Send(ctx, report); sendErr != nil {
		r.log.Debug("failed to report exception", "error", sendErr)
	}
}
