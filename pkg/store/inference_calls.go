package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// InferenceCallStore persists the audit trail of oracle invocations.
type InferenceCallStore struct {
	db *sql.DB
}

// NewInferenceCallStore builds an InferenceCallStore.
func NewInferenceCallStore(db *sql.DB) *InferenceCallStore {
	return &InferenceCallStore{db: db}
}

// Create records one oracle invocation. At least one of projectID, agentID,
// commandID, turnID must be non-nil — the storage CHECK constraint enforces
// this, so callers that have no natural parent should attribute the call to
// the most relevant one available rather than omit it.
func (s *InferenceCallStore) Create(ctx context.Context, c *models.InferenceCall) (*models.InferenceCall, error) {
	var out models.InferenceCall
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inference_calls (level, project_id, agent_id, command_id, turn_id,
		                              input_hash, input_text, cached, prompt_tokens,
		                              completion_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, level, project_id, agent_id, command_id, turn_id, input_hash,
		          input_text, cached, prompt_tokens, completion_tokens, cost_usd,
		          latency_ms, created_at`,
		c.Level, c.ProjectID, c.AgentID, c.CommandID, c.TurnID,
		c.InputHash, c.InputText, c.Cached, c.PromptTokens,
		c.CompletionTokens, c.CostUSD, c.LatencyMS,
	).Scan(&out.ID, &out.Level, &out.ProjectID, &out.AgentID, &out.CommandID, &out.TurnID,
		&out.InputHash, &out.InputText, &out.Cached, &out.PromptTokens, &out.CompletionTokens,
		&out.CostUSD, &out.LatencyMS, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create inference call: %w", err)
	}
	return &out, nil
}

// ExistsForCommand reports whether a command-level inference call has
// already been recorded for commandID, used by the summariser to avoid
// re-summarising a command it already produced a completion_summary for.
func (s *InferenceCallStore) ExistsForCommand(ctx context.Context, commandID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM inference_calls WHERE level = $1 AND command_id = $2)`,
		models.InferenceLevelCommand, commandID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check inference call for command: %w", err)
	}
	return exists, nil
}

// CommandsNeedingSummary returns commands that reached COMPLETE and have no
// command-level inference call recorded yet, for the summariser's sweep.
func (s *InferenceCallStore) CommandsNeedingSummary(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id FROM commands c
		WHERE c.state = $1
		  AND NOT EXISTS (
		    SELECT 1 FROM inference_calls ic WHERE ic.level = $2 AND ic.command_id = c.id
		  )
		ORDER BY c.completed_at ASC LIMIT $3`,
		models.CommandComplete, models.InferenceLevelCommand, limit)
	if err != nil {
		return nil, fmt.Errorf("query completed uncommented commands: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan completed command id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
