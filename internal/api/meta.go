package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"qbase/internal/schema"
)

// ===== SCHEMA HANDLERS =====

func SchemaHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Current().Document())
	}
}

type entityListItem struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Kind schema.EntityKind `json:"kind"`
}

type entityMeta struct {
	schema.EntityDocument
	// References: имена сущностей, на которые ссылаются поля.
	References []string `json:"references,omitempty"`
	// ReferencedBy: имена сущностей, ссылающихся на эту.
	ReferencedBy []string `json:"referencedBy,omitempty"`
}

// EntityHandler ищет сущность по имени без учёта регистра.
func EntityHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		cur := s.Current()
		e, ok := cur.EntityByName(c.Param("name"))
		if !ok {
			abortWithError(c, fmt.Errorf("entity %q: %w", c.Param("name"), schema.ErrNotFound))
			return
		}

		out := entityMeta{EntityDocument: e.Document()}
		for _, id := range e.References() {
			if target, ok := cur.Entity(id); ok {
				out.References = append(out.References, target.Name())
			}
		}
		for _, other := range cur.Entities() {
			if other.ID() == e.ID() {
				continue
			}
			for _, id := range other.References() {
				if id == e.ID() {
					out.ReferencedBy = append(out.ReferencedBy, other.Name())
					break
				}
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

func EntityListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		entities := s.Current().Entities()
		out := make([]entityListItem, 0, len(entities))
		for _, e := range entities {
			out = append(out, entityListItem{ID: e.ID(), Name: e.Name(), Kind: e.Kind()})
		}
		c.JSON(http.StatusOK, out)
	}
}
