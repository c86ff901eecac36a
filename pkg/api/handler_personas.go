package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type registerPersonaRequest struct {
	Name        string  `json:"name" binding:"required"`
	Role        string  `json:"role" binding:"required"`
	Description *string `json:"description"`
}

// handleRegisterPersona registers (or re-registers, on slug collision) a
// persona. There is no on-disk skill/experience document to hash here —
// this endpoint records the operator-declared identity; the content hash
// the lifecycle controller checks against is stamped when the persona's
// actual content is loaded, not at registration time.
func (s *Server) handleRegisterPersona(c *gin.Context) {
	var req registerPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := c.Request.Context()
	role, err := s.deps.Roles.GetOrCreateByName(ctx, req.Role)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	slug := personaSlug(req.Name)
	contentHash := sha256.Sum256([]byte(slug + req.Role))

	persona, err := s.deps.Personas.Register(ctx, slug, req.Name, role.ID, req.Description, hex.EncodeToString(contentHash[:]))
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"slug": persona.Slug, "id": persona.ID, "path": personaPath(persona.Slug)})
}

func (s *Server) handleActivePersonas(c *gin.Context) {
	personas, err := s.deps.Personas.ListActive(c.Request.Context())
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	out := make([]gin.H, 0, len(personas))
	for _, p := range personas {
		out = append(out, gin.H{"slug": p.Slug, "name": p.Name, "description": p.Description})
	}
	c.JSON(http.StatusOK, gin.H{"personas": out})
}

func personaSlug(name string) string {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
		default:
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

func personaPath(slug string) string {
	return fmt.Sprintf("personas/%s", slug)
}
