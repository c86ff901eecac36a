package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// RoleStore persists and queries Role rows. Personas register against a
// role by name; there is no multi-tenant organisation concept exposed
// anywhere else in this system, so every role is parked under a single
// default organisation created lazily on first use.
type RoleStore struct {
	db *sql.DB
}

// NewRoleStore builds a RoleStore.
func NewRoleStore(db *sql.DB) *RoleStore {
	return &RoleStore{db: db}
}

func (s *RoleStore) defaultOrganisationID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM organisations ORDER BY id LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("load default organisation: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO organisations (name) VALUES ('default') RETURNING id`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create default organisation: %w", err)
	}
	return id, nil
}

// GetOrCreateByName returns the role for name under the default
// organisation, creating it if it does not yet exist.
func (s *RoleStore) GetOrCreateByName(ctx context.Context, name string) (*models.Role, error) {
	orgID, err := s.defaultOrganisationID(ctx)
	if err != nil {
		return nil, err
	}

	var r models.Role
	err = s.db.QueryRowContext(ctx, `
		SELECT id, organisation_id, name, created_at
		FROM roles WHERE organisation_id = $1 AND name = $2`,
		orgID, name,
	).Scan(&r.ID, &r.OrganisationID, &r.Name, &r.CreatedAt)
	if err == nil {
		return &r, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("load role: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (organisation_id, name) VALUES ($1, $2)
		RETURNING id, organisation_id, name, created_at`,
		orgID, name,
	).Scan(&r.ID, &r.OrganisationID, &r.Name, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return &r, nil
}
