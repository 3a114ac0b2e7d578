package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qbase/internal/change"
	"qbase/internal/migrate"
	"qbase/internal/schema"
)

type planResponse struct {
	From        string           `json:"from"`
	To          string           `json:"to"`
	Changes     []change.Summary `json:"changes"`
	Destructive bool             `json:"destructive"`
	Issues      []schema.Issue   `json:"issues,omitempty"`
}

// planFor строит схему из документа и план от текущей схемы к ней.
func planFor(s *Server, doc schema.Document) (migrate.Plan, error) {
	next, err := schema.FromDocument(doc)
	if err != nil {
		return migrate.Plan{}, err
	}
	return migrate.NewPlan(s.Current(), next)
}

func newPlanResponse(p migrate.Plan) planResponse {
	return planResponse{
		From:        p.From.String(),
		To:          p.To.String(),
		Changes:     change.Summarize(p.Changes),
		Destructive: len(p.Destructive()) > 0,
		Issues:      schema.Lint(p.Target),
	}
}

// PlanHandler: предпросмотр: хранилище не трогается.
func PlanHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var doc schema.Document
		if err := c.ShouldBindJSON(&doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
			return
		}
		p, err := planFor(s, doc)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, newPlanResponse(p))
	}
}
