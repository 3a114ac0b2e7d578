// api/router.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/schema", SchemaHandler(s))
		v1.GET("/schema/entities", EntityListHandler(s))
		v1.GET("/schema/entities/:name", EntityHandler(s))
		v1.GET("/schema/lint", LintHandler(s))
		v1.POST("/schema/plan", PlanHandler(s))

		// статический маршрут раньше :id
		v1.GET("/migrations/history", HistoryHandler(s))
		v1.POST("/migrations", SubmitMigrationHandler(s))
		v1.GET("/migrations", ListMigrationsHandler(s))
		v1.GET("/migrations/:id", MigrationHandler(s))
	}
	return r
}

// RunServer поднимает HTTP и воркер миграций; оба останавливаются по отмене ctx.
func RunServer(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.RunWorker(ctx)
	}()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	cancel()
	<-workerDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
