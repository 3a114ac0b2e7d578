package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qbase/internal/change"
	"qbase/internal/compare"
	"qbase/internal/migrate"
	"qbase/internal/order"
	"qbase/internal/schema"
)

// statusOf переводит доменную ошибку в HTTP-статус.
func statusOf(err error) int {
	switch {
	case errors.Is(err, migrate.ErrJobNotFound), errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, compare.ErrVersionNotAdvanced),
		errors.Is(err, migrate.ErrDestructiveChangeRejected),
		errors.Is(err, errMigrationInProgress):
		return http.StatusConflict
	case errors.Is(err, schema.ErrInvariantViolation), errors.Is(err, order.ErrOrdering):
		return http.StatusUnprocessableEntity
	case errors.Is(err, migrate.ErrQueueFull), errors.Is(err, migrate.ErrWorkerStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var de *migrate.DestructiveError
	if errors.As(err, &de) {
		body["changes"] = change.Summarize(de.Changes)
		body["hint"] = "retry with allowDestructive=true"
	}
	c.AbortWithStatusJSON(statusOf(err), body)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
