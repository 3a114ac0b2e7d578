package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qbase/internal/migrate"
	"qbase/internal/schema"
)

var errMigrationInProgress = errors.New("another migration is pending")

type migrationRequest struct {
	Schema           schema.Document `json:"schema"`
	AllowDestructive bool            `json:"allowDestructive"`
}

// SubmitMigrationHandler планирует миграцию от текущей схемы и ставит её воркеру.
// Пока предыдущее задание не завершено, новое не принимается: план строится
// от схемы, которая после него уже не будет текущей.
func SubmitMigrationHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req migrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
			return
		}

		s.submitMu.Lock()
		defer s.submitMu.Unlock()
		for _, j := range s.worker.List() {
			if j.Status == migrate.StatusPending || j.Status == migrate.StatusRunning {
				abortWithError(c, fmt.Errorf("%w: %s", errMigrationInProgress, j.ID))
				return
			}
		}

		p, err := planFor(s, req.Schema)
		if err != nil {
			abortWithError(c, err)
			return
		}
		job, err := s.worker.Submit(p, migrate.Options{AllowDestructive: req.AllowDestructive})
		if err != nil {
			abortWithError(c, err)
			return
		}
		s.logger.Info("migration submitted",
			zap.String("job", job.ID),
			zap.String("from", job.From),
			zap.String("to", job.To),
			zap.Int("changes", len(job.Changes)))
		c.Header("Location", "/api/v1/migrations/"+job.ID)
		c.JSON(http.StatusAccepted, job)
	}
}

func MigrationHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := s.worker.Get(c.Param("id"))
		if !ok {
			abortWithError(c, fmt.Errorf("%w: %s", migrate.ErrJobNotFound, c.Param("id")))
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// ListMigrationsHandler: все задания, новые первыми.
func ListMigrationsHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.worker.List())
	}
}

// HistoryHandler: журнал применённых миграций из хранилища.
func HistoryHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.history == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "store does not expose migration history"})
			return
		}
		entries, err := s.history.History(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		if entries == nil {
			entries = []migrate.HistoryEntry{}
		}
		c.JSON(http.StatusOK, entries)
	}
}
