// Package store holds the hand-written pgx-backed repositories for the
// relational entities of the domain model. There is no ORM here: each
// repository is a thin set of methods over *sql.DB/*sql.Tx, mirroring the
// shape of the database client's plain-SQL approach (see pkg/database).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// AgentStore persists and queries Agent rows.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore builds an AgentStore.
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

// Create inserts a new agent row for a freshly started session.
func (s *AgentStore) Create(ctx context.Context, projectID int64, sessionUUID uuid.UUID) (*models.Agent, error) {
	var a models.Agent
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO agents (session_uuid, project_id, started_at, last_seen_at)
		VALUES ($1, $2, now(), now())
		RETURNING id, session_uuid, project_id, started_at, last_seen_at`,
		sessionUUID, projectID,
	).Scan(&a.ID, &a.SessionUUID, &a.ProjectID, &a.StartedAt, &a.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &a, nil
}

// CreateWithLineage inserts a new agent carrying an optional persona and
// predecessor reference, used by the lifecycle controller's create path.
func (s *AgentStore) CreateWithLineage(ctx context.Context, projectID int64, sessionUUID uuid.UUID, personaID, previousAgentID *int64) (*models.Agent, error) {
	var a models.Agent
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO agents (session_uuid, project_id, persona_id, previous_agent_id, started_at, last_seen_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, session_uuid, project_id, started_at, last_seen_at`,
		sessionUUID, projectID, personaID, previousAgentID,
	).Scan(&a.ID, &a.SessionUUID, &a.ProjectID, &a.StartedAt, &a.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("create agent with lineage: %w", err)
	}
	a.PersonaID = personaID
	a.PreviousAgentID = previousAgentID
	return &a, nil
}

// SetPromptInjection records that persona/guardrail content was delivered to
// the agent's pane, stamping both the guardrails document version and the
// injection timestamp atomically.
func (s *AgentStore) SetPromptInjection(ctx context.Context, agentID int64, guardrailsVersionHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET guardrails_version_hash = $2, prompt_injected_at = now() WHERE id = $1`,
		agentID, guardrailsVersionHash)
	if err != nil {
		return fmt.Errorf("set agent prompt injection: %w", err)
	}
	return nil
}

// SetContextUsage records the most recently parsed context-window status
// line for the agent's pane.
func (s *AgentStore) SetContextUsage(ctx context.Context, agentID int64, percentUsed int, remainingTokens string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET context_percent_used = $2, context_remaining_tokens = $3, context_updated_at = now() WHERE id = $1`,
		agentID, percentUsed, remainingTokens)
	if err != nil {
		return fmt.Errorf("set agent context usage: %w", err)
	}
	return nil
}

// GetBySessionUUID looks up an agent by its session UUID.
func (s *AgentStore) GetBySessionUUID(ctx context.Context, sessionUUID uuid.UUID) (*models.Agent, error) {
	return s.scanOne(ctx, s.db.QueryRowContext(ctx, agentSelect+` WHERE session_uuid = $1`, sessionUUID))
}

// GetByID looks up an agent by its primary key.
func (s *AgentStore) GetByID(ctx context.Context, id int64) (*models.Agent, error) {
	return s.scanOne(ctx, s.db.QueryRowContext(ctx, agentSelect+` WHERE id = $1`, id))
}

const agentSelect = `
	SELECT id, session_uuid, project_id, persona_id, position_id, previous_agent_id,
	       tmux_pane_id, tmux_session_name, legacy_window_id, started_at, last_seen_at,
	       ended_at, priority_score, priority_reason, priority_updated_at,
	       context_percent_used, context_remaining_tokens, context_updated_at,
	       guardrails_version_hash, prompt_injected_at
	FROM agents`

func (s *AgentStore) scanOne(ctx context.Context, row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.SessionUUID, &a.ProjectID, &a.PersonaID, &a.PositionID, &a.PreviousAgentID,
		&a.TmuxPaneID, &a.TmuxSessionName, &a.LegacyWindowID, &a.StartedAt, &a.LastSeenAt,
		&a.EndedAt, &a.PriorityScore, &a.PriorityReason, &a.PriorityUpdatedAt,
		&a.ContextPercentUsed, &a.ContextRemainingTokens, &a.ContextUpdatedAt,
		&a.GuardrailsVersionHash, &a.PromptInjectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}

// TouchLastSeen bumps last_seen_at to now.
func (s *AgentStore) TouchLastSeen(ctx context.Context, agentID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen_at = now() WHERE id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("touch agent last_seen_at: %w", err)
	}
	return nil
}

// SetEnded marks an agent as ended.
func (s *AgentStore) SetEnded(ctx context.Context, agentID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET ended_at = now() WHERE id = $1 AND ended_at IS NULL`, agentID)
	if err != nil {
		return fmt.Errorf("end agent: %w", err)
	}
	return nil
}

// SetPriority writes the priority triplet atomically — the storage CHECK
// constraint rejects any partial write of (score, reason, updated_at).
func (s *AgentStore) SetPriority(ctx context.Context, agentID int64, score int, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET priority_score = $2, priority_reason = $3, priority_updated_at = now() WHERE id = $1`,
		agentID, score, reason)
	if err != nil {
		return fmt.Errorf("set agent priority: %w", err)
	}
	return nil
}

// SetTmuxPane records the tmux pane a freshly registered agent was spawned
// into.
func (s *AgentStore) SetTmuxPane(ctx context.Context, agentID int64, paneID, sessionName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET tmux_pane_id = $2, tmux_session_name = $3 WHERE id = $1`,
		agentID, paneID, sessionName)
	if err != nil {
		return fmt.Errorf("set agent tmux pane: %w", err)
	}
	return nil
}

// Active returns every agent that has not ended, for the reaper's sweep.
func (s *AgentStore) Active(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, agentSelect+` WHERE ended_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("query active agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.SessionUUID, &a.ProjectID, &a.PersonaID, &a.PositionID, &a.PreviousAgentID,
			&a.TmuxPaneID, &a.TmuxSessionName, &a.LegacyWindowID, &a.StartedAt, &a.LastSeenAt,
			&a.EndedAt, &a.PriorityScore, &a.PriorityReason, &a.PriorityUpdatedAt,
			&a.ContextPercentUsed, &a.ContextRemainingTokens, &a.ContextUpdatedAt,
			&a.GuardrailsVersionHash, &a.PromptInjectedAt); err != nil {
			return nil, fmt.Errorf("scan active agent: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteEndedBefore removes agents that ended before cutoff, for the
// retention sweep. Deletion cascades to that agent's commands, turns, and
// handoff row (ON DELETE CASCADE) and disassociates its event rows (ON
// DELETE SET NULL) rather than deleting them, so the event log stays
// complete even once the agent it concerns has been purged. It returns the
// number of agents removed.
func (s *AgentStore) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE ended_at IS NOT NULL AND ended_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete agents ended before cutoff: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted agents: %w", err)
	}
	return n, nil
}
