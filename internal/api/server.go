package api

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"qbase/internal/migrate"
	"qbase/internal/schema"
)

// Server держит текущую схему и воркер миграций. Схема меняется только после
// успешной фиксации миграции, чтение идёт под RLock.
type Server struct {
	mu      sync.RWMutex
	current *schema.Schema
	// submitMu сериализует планирование и постановку миграций в очередь.
	submitMu sync.Mutex

	worker  *migrate.Worker
	history migrate.HistoryReader
	logger  *zap.Logger
}

type Options struct {
	Worker migrate.WorkerOptions
	// History: журнал хранилища; nil, если хранилище его не отдаёт.
	History migrate.HistoryReader
}

func NewServer(current *schema.Schema, m *migrate.Migrator, store migrate.Store, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if current == nil {
		current = schema.New(nil, schema.Settings{})
	}
	s := &Server{current: current.Clone(), history: opts.History, logger: logger}
	if opts.History == nil {
		if h, ok := store.(migrate.HistoryReader); ok {
			s.history = h
		}
	}

	wo := opts.Worker
	next := wo.OnSuccess
	wo.OnSuccess = func(p migrate.Plan) {
		s.setCurrent(p.Target)
		if next != nil {
			next(p)
		}
	}
	s.worker = migrate.NewWorker(m, store, wo, logger.Named("worker"))
	return s
}

// Current: копия текущей схемы.
func (s *Server) Current() *schema.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

func (s *Server) setCurrent(next *schema.Schema) {
	if next == nil {
		return
	}
	s.mu.Lock()
	s.current = next.Clone()
	s.mu.Unlock()
	s.logger.Info("current schema replaced", zap.String("version", next.Version().String()))
}

func (s *Server) Worker() *migrate.Worker { return s.worker }

// RunWorker обрабатывает очередь миграций до отмены ctx.
func (s *Server) RunWorker(ctx context.Context) { s.worker.Run(ctx) }
