package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// HandoffStore persists and queries Handoff rows.
type HandoffStore struct {
	db *sql.DB
}

// NewHandoffStore builds a HandoffStore.
func NewHandoffStore(db *sql.DB) *HandoffStore {
	return &HandoffStore{db: db}
}

// GetByAgentID returns the Handoff row recorded for agentID, or ErrNotFound
// if the agent's successor (if any) was a revival rather than a planned
// handoff.
func (s *HandoffStore) GetByAgentID(ctx context.Context, agentID int64) (*models.Handoff, error) {
	var h models.Handoff
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, successor_id, reason, created_at
		FROM handoffs WHERE agent_id = $1`, agentID,
	).Scan(&h.ID, &h.AgentID, &h.SuccessorID, &h.Reason, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan handoff: %w", err)
	}
	return &h, nil
}

// Create records a deliberate handoff from agentID to its successor.
func (s *HandoffStore) Create(ctx context.Context, agentID int64, successorID *int64, reason string) (*models.Handoff, error) {
	var h models.Handoff
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO handoffs (agent_id, successor_id, reason)
		VALUES ($1, $2, $3)
		RETURNING id, agent_id, successor_id, reason, created_at`,
		agentID, successorID, reason,
	).Scan(&h.ID, &h.AgentID, &h.SuccessorID, &h.Reason, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create handoff: %w", err)
	}
	return &h, nil
}

// SetSuccessor fills in the successor once the new agent has been created.
func (s *HandoffStore) SetSuccessor(ctx context.Context, agentID, successorID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE handoffs SET successor_id = $2 WHERE agent_id = $1`, agentID, successorID)
	if err != nil {
		return fmt.Errorf("set handoff successor: %w", err)
	}
	return nil
}
