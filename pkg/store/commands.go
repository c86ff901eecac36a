package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// CommandStore persists and queries Command rows. Every mutating method
// accepts a querier so the correlator can run it inside the same
// transaction as the turn insert and the event write.
type CommandStore struct {
	db *sql.DB
}

// NewCommandStore builds a CommandStore.
func NewCommandStore(db *sql.DB) *CommandStore {
	return &CommandStore{db: db}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const commandSelect = `
	SELECT id, agent_id, state, started_at, completed_at, instruction,
	       completion_summary, full_command, full_output,
	       plan_file_path, plan_content, plan_approved_at
	FROM commands`

func scanCommand(row *sql.Row) (*models.Command, error) {
	var c models.Command
	err := row.Scan(&c.ID, &c.AgentID, &c.State, &c.StartedAt, &c.CompletedAt, &c.Instruction,
		&c.CompletionSummary, &c.FullCommand, &c.FullOutput,
		&c.PlanFilePath, &c.PlanContent, &c.PlanApprovedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan command: %w", err)
	}
	return &c, nil
}

// LatestForAgent returns the most recently started command for an agent, or
// ErrNotFound if the agent has never had one (still IDLE).
func (s *CommandStore) LatestForAgent(ctx context.Context, agentID int64) (*models.Command, error) {
	row := s.db.QueryRowContext(ctx, commandSelect+`
		WHERE agent_id = $1 ORDER BY started_at DESC LIMIT 1`, agentID)
	return scanCommand(row)
}

// Create opens a new command, q may be *sql.DB or a transaction.
func (s *CommandStore) Create(ctx context.Context, q querier, agentID int64, instruction string) (*models.Command, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO commands (agent_id, state, started_at, instruction, full_command)
		VALUES ($1, $2, now(), $3, $3)
		RETURNING id, agent_id, state, started_at, completed_at, instruction,
		          completion_summary, full_command, full_output,
		          plan_file_path, plan_content, plan_approved_at`,
		agentID, models.CommandCommanded, instruction)
	return scanCommand(row)
}

// Transition moves a command to toState, stamping completed_at when the
// destination is terminal and filling completion_summary/full_output from
// the triggering turn's text when provided.
func (s *CommandStore) Transition(ctx context.Context, q querier, commandID int64, toState models.CommandState, completionText string) error {
	if toState == models.CommandComplete {
		_, err := q.ExecContext(ctx, `
			UPDATE commands
			SET state = $2, completed_at = now(),
			    completion_summary = COALESCE(NULLIF($3, ''), completion_summary),
			    full_output = COALESCE(NULLIF($3, ''), full_output)
			WHERE id = $1`,
			commandID, toState, completionText)
		if err != nil {
			return fmt.Errorf("complete command: %w", err)
		}
		return nil
	}

	_, err := q.ExecContext(ctx, `UPDATE commands SET state = $2 WHERE id = $1`, commandID, toState)
	if err != nil {
		return fmt.Errorf("transition command: %w", err)
	}
	return nil
}

// GetByID looks up a command by primary key.
func (s *CommandStore) GetByID(ctx context.Context, id int64) (*models.Command, error) {
	return scanCommand(s.db.QueryRowContext(ctx, commandSelect+` WHERE id = $1`, id))
}

// SetCompletionSummary overwrites a completed command's completion_summary
// with the summariser's oracle-generated text, replacing the raw final-turn
// text Transition wrote as a placeholder.
func (s *CommandStore) SetCompletionSummary(ctx context.Context, commandID int64, summary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET completion_summary = $2 WHERE id = $1`, commandID, summary)
	if err != nil {
		return fmt.Errorf("set command completion summary: %w", err)
	}
	return nil
}
