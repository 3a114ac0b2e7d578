// api/schema_lint.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qbase/internal/schema"
)

// LintHandler отдаёт не блокирующие замечания к текущей схеме.
func LintHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := schema.Lint(s.Current())
		if issues == nil {
			issues = []schema.Issue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues})
	}
}
