package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ProjectStore persists and queries Project rows.
type ProjectStore struct {
	db *sql.DB
}

// NewProjectStore builds a ProjectStore.
func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// GetByPath looks up a project by its filesystem path.
func (s *ProjectStore) GetByPath(ctx context.Context, path string) (*models.Project, error) {
	return s.scanOne(ctx, s.db.QueryRowContext(ctx, projectSelect+` WHERE path = $1`, path))
}

// GetByID looks up a project by its primary key.
func (s *ProjectStore) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	return s.scanOne(ctx, s.db.QueryRowContext(ctx, projectSelect+` WHERE id = $1`, id))
}

// GetBySlug looks up a project by its slug.
func (s *ProjectStore) GetBySlug(ctx context.Context, slug string) (*models.Project, error) {
	return s.scanOne(ctx, s.db.QueryRowContext(ctx, projectSelect+` WHERE slug = $1`, slug))
}

const projectSelect = `
	SELECT id, slug, name, path, git_origin_url, git_branch,
	       inference_paused, inference_pause_reason, inference_paused_at,
	       created_at, updated_at
	FROM projects`

func (s *ProjectStore) scanOne(ctx context.Context, row *sql.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Path, &p.GitOriginURL, &p.GitBranch,
		&p.InferencePaused, &p.InferencePauseReason, &p.InferencePausedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

// GetOrCreateByPath returns the project for path, creating it (deriving a
// slug and name from the path's final component) if it does not yet exist.
func (s *ProjectStore) GetOrCreateByPath(ctx context.Context, path string) (*models.Project, error) {
	existing, err := s.GetByPath(ctx, path)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	name := slugFromPath(path)
	var p models.Project
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO projects (slug, name, path) VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id, slug, name, path, git_origin_url, git_branch,
		          inference_paused, inference_pause_reason, inference_paused_at,
		          created_at, updated_at`,
		uniqueSlug(name, path), name, path,
	).Scan(&p.ID, &p.Slug, &p.Name, &p.Path, &p.GitOriginURL, &p.GitBranch,
		&p.InferencePaused, &p.InferencePauseReason, &p.InferencePausedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

func slugFromPath(path string) string {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// uniqueSlug derives a collision-resistant slug by suffixing with a short
// hash of the full path — two projects can share a directory basename.
func uniqueSlug(name, path string) string {
	return fmt.Sprintf("%s-%x", name, fnv32(path)&0xffff)
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
