package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// PersonaStore persists and queries Persona rows.
type PersonaStore struct {
	db *sql.DB
}

// NewPersonaStore builds a PersonaStore.
func NewPersonaStore(db *sql.DB) *PersonaStore {
	return &PersonaStore{db: db}
}

const personaSelect = `
	SELECT id, slug, name, role_id, description, status, content_sha256,
	       created_at, archived_at
	FROM personas`

func scanPersona(row *sql.Row) (*models.Persona, error) {
	var p models.Persona
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.RoleID, &p.Description, &p.Status,
		&p.ContentSHA256, &p.CreatedAt, &p.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan persona: %w", err)
	}
	return &p, nil
}

// GetBySlug looks up an active or archived persona by its slug.
func (s *PersonaStore) GetBySlug(ctx context.Context, slug string) (*models.Persona, error) {
	return scanPersona(s.db.QueryRowContext(ctx, personaSelect+` WHERE slug = $1`, slug))
}

// GetByID looks up a persona by id.
func (s *PersonaStore) GetByID(ctx context.Context, id int64) (*models.Persona, error) {
	return scanPersona(s.db.QueryRowContext(ctx, personaSelect+` WHERE id = $1`, id))
}

// Register inserts a new active persona, or updates content_sha256 and
// description if the slug already exists (a re-registration after the
// skill/experience documents on disk changed).
func (s *PersonaStore) Register(ctx context.Context, slug, name string, roleID int64, description *string, contentSHA256 string) (*models.Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO personas (slug, name, role_id, description, content_sha256)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			content_sha256 = EXCLUDED.content_sha256
		RETURNING id, slug, name, role_id, description, status, content_sha256,
		          created_at, archived_at`,
		slug, name, roleID, description, contentSHA256)
	return scanPersona(row)
}

// ListActive returns every persona with status='active', ordered by its
// role's name and then its own name.
func (s *PersonaStore) ListActive(ctx context.Context) ([]*models.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.name, p.role_id, p.description, p.status, p.content_sha256,
		       p.created_at, p.archived_at
		FROM personas p
		JOIN roles r ON r.id = p.role_id
		WHERE p.status = 'active'
		ORDER BY r.name, p.name`)
	if err != nil {
		return nil, fmt.Errorf("list active personas: %w", err)
	}
	defer rows.Close()

	var out []*models.Persona
	for rows.Next() {
		var p models.Persona
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.RoleID, &p.Description, &p.Status,
			&p.ContentSHA256, &p.CreatedAt, &p.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
