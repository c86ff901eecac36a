package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ObjectiveStore persists and queries Objective rows. Updating the objective
// inserts a new row rather than mutating an existing one, so prior text is
// retained for audit; the current objective is simply the most recently
// updated row.
type ObjectiveStore struct {
	db *sql.DB
}

// NewObjectiveStore builds an ObjectiveStore.
func NewObjectiveStore(db *sql.DB) *ObjectiveStore {
	return &ObjectiveStore{db: db}
}

// Current returns the most recently updated objective, or ErrNotFound if
// none has ever been set.
func (s *ObjectiveStore) Current(ctx context.Context) (*models.Objective, error) {
	var o models.Objective
	err := s.db.QueryRowContext(ctx, `
		SELECT id, text, priority_enabled, created_at, updated_at
		FROM objectives ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&o.ID, &o.Text, &o.PriorityEnabled, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan objective: %w", err)
	}
	return &o, nil
}

// Set records a new current objective, preserving the prior row untouched.
func (s *ObjectiveStore) Set(ctx context.Context, text string, priorityEnabled bool) (*models.Objective, error) {
	var o models.Objective
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO objectives (text, priority_enabled) VALUES ($1, $2)
		RETURNING id, text, priority_enabled, created_at, updated_at`,
		text, priorityEnabled,
	).Scan(&o.ID, &o.Text, &o.PriorityEnabled, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("set objective: %w", err)
	}
	return &o, nil
}
