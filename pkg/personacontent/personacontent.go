// Package personacontent resolves a persona's on-disk skill/experience
// content by slug, implementing lifecycle.PersonaContentProvider. Each
// persona gets one directory under a configured root, following the
// personas/<slug> path convention the registration API reports back to
// operators: <root>/<slug>/skill.md is required, <root>/<slug>/experience.md
// is optional.
package personacontent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
)

// Provider reads persona content from a directory tree rooted at Root.
type Provider struct {
	root string
}

// New builds a Provider rooted at root.
func New(root string) *Provider {
	return &Provider{root: root}
}

// Content implements lifecycle.PersonaContentProvider.
func (p *Provider) Content(ctx context.Context, personaSlug string) (lifecycle.PersonaContent, error) {
	select {
	case <-ctx.Done():
		return lifecycle.PersonaContent{}, ctx.Err()
	default:
	}

	dir := filepath.Join(p.root, personaSlug)

	skill, err := os.ReadFile(filepath.Join(dir, "skill.md"))
	if err != nil {
		return lifecycle.PersonaContent{}, fmt.Errorf("read persona %q skill content: %w", personaSlug, err)
	}

	experience, err := os.ReadFile(filepath.Join(dir, "experience.md"))
	if err != nil && !os.IsNotExist(err) {
		return lifecycle.PersonaContent{}, fmt.Errorf("read persona %q experience content: %w", personaSlug, err)
	}

	return lifecycle.PersonaContent{
		Skill:      string(skill),
		Experience: string(experience),
	}, nil
}
