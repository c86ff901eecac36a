// Package oracle implements the inference oracle: an HTTP client
// wrapping a summarization/scoring endpoint, with an input-hash cache and a
// persisted audit trail of every invocation. Grounded in pkg/llm/client.go's
// client-wrapper shape, generalised from a gRPC streaming transport to a
// plain HTTP request/response one — there is no equivalent protobuf service
// in the pack, and nothing here needs chunked delivery.
package oracle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// Config configures the HTTP oracle client. APIKeyEnv names an environment
// variable holding a bearer token sent as Authorization on every request;
// empty means the endpoint takes none. CacheTTL bounds how long a
// Summarize input-hash cache entry is reused before a repeat request is
// issued again — zero means cache entries never expire.
type Config struct {
	Endpoint  string
	Model     string
	Timeout   time.Duration
	APIKeyEnv string
	CacheTTL  time.Duration
}

type cacheEntry struct {
	summary string
	at      time.Time
}

// ParentRefs names the storage parent an inference call is attributed to.
// At least one field must be non-nil (the inference_calls CHECK constraint
// enforces this).
type ParentRefs struct {
	ProjectID *int64
	AgentID   *int64
	CommandID *int64
	TurnID    *int64
}

// PriorityCandidate is one agent considered in a scoring round.
type PriorityCandidate struct {
	AgentID     int64  `json:"agent_id"`
	State       string `json:"state"`
	Instruction string `json:"instruction,omitempty"`
	LastSummary string `json:"last_summary,omitempty"`
}

// PriorityScore is the oracle's verdict for one candidate.
type PriorityScore struct {
	AgentID int64  `json:"agent_id"`
	Score   int    `json:"score"`
	Reason  string `json:"reason"`
}

// Oracle wraps HTTP calls to the inference service with a process-local
// input-hash cache (the only place a result's text lives — inference_calls
// is an audit trail of hashes and token counts, not a result store) and a
// persisted InferenceCall per invocation.
type Oracle struct {
	http   *http.Client
	cfg    Config
	apiKey string
	calls  *store.InferenceCallStore

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds an Oracle.
func New(cfg Config, calls *store.InferenceCallStore) *Oracle {
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &Oracle{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		apiKey: apiKey,
		calls:  calls,
		cache:  make(map[string]cacheEntry),
	}
}

func hashInput(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type summarizeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type summarizeResponse struct {
	Summary          string  `json:"summary"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Summarize produces a one-to-two sentence summary of text, recording an
// InferenceCall of the given level against parent. A cache hit on the input
// hash returns the prior summary without issuing a request or consuming
// tokens — InferenceCall.Cached is set accordingly either way.
func (o *Oracle) Summarize(ctx context.Context, level models.InferenceLevel, parent ParentRefs, text string) (string, error) {
	hash := hashInput(text)

	o.mu.Lock()
	cached, hit := o.cache[hash]
	if hit && o.cfg.CacheTTL > 0 && time.Since(cached.at) > o.cfg.CacheTTL {
		hit = false
		delete(o.cache, hash)
	}
	o.mu.Unlock()
	if hit {
		o.record(ctx, level, parent, hash, text, true, 0, 0, 0, 0)
		return cached.summary, nil
	}

	start := time.Now()
	var resp summarizeResponse
	if err := o.post(ctx, "/summarize", summarizeRequest{Model: o.cfg.Model, Text: text}, &resp); err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	latency := time.Since(start)

	o.mu.Lock()
	o.cache[hash] = cacheEntry{summary: resp.Summary, at: time.Now()}
	o.mu.Unlock()

	o.record(ctx, level, parent, hash, text, false, resp.PromptTokens, resp.CompletionTokens, resp.CostUSD, int(latency.Milliseconds()))
	return resp.Summary, nil
}

type scoreRequest struct {
	Model         string              `json:"model"`
	ObjectiveText string              `json:"objective_text"`
	Candidates    []PriorityCandidate `json:"candidates"`
}

type scoreResponse struct {
	Scores           []PriorityScore `json:"scores"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	CostUSD          float64         `json:"cost_usd"`
}

// ScorePriority scores every candidate against objectiveText in one batched
// call, returning one PriorityScore per candidate. The single resulting
// InferenceCall is attributed to the first candidate's agent — there is no
// batch-level storage parent in the schema, and picking an anchor is
// preferable to skipping the audit record entirely.
func (o *Oracle) ScorePriority(ctx context.Context, objectiveText string, candidates []PriorityCandidate) ([]PriorityScore, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	start := time.Now()
	var resp scoreResponse
	if err := o.post(ctx, "/score_priority", scoreRequest{
		Model: o.cfg.Model, ObjectiveText: objectiveText, Candidates: candidates,
	}, &resp); err != nil {
		return nil, fmt.Errorf("score priority: %w", err)
	}
	latency := time.Since(start)

	input, _ := json.Marshal(candidates)
	hash := hashInput(objectiveText + string(input))
	anchor := candidates[0].AgentID
	o.record(ctx, models.InferenceLevelPriority, ParentRefs{AgentID: &anchor}, hash, objectiveText, false,
		resp.PromptTokens, resp.CompletionTokens, resp.CostUSD, int(latency.Milliseconds()))

	return resp.Scores, nil
}

func (o *Oracle) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (o *Oracle) record(ctx context.Context, level models.InferenceLevel, parent ParentRefs, hash, text string, cached bool, promptTokens, completionTokens int, costUSD float64, latencyMS int) {
	_, _ = o.calls.Create(ctx, &models.InferenceCall{
		Level:            level,
		ProjectID:        parent.ProjectID,
		AgentID:          parent.AgentID,
		CommandID:        parent.CommandID,
		TurnID:           parent.TurnID,
		InputHash:        hash,
		InputText:        &text,
		Cached:           cached,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          costUSD,
		LatencyMS:        latencyMS,
	})
}
