package migrate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"qbase/internal/change"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	ErrQueueFull     = errors.New("migration queue is full")
	ErrWorkerStopped = errors.New("migration worker stopped")
	ErrJobNotFound   = errors.New("migration job not found")
)

// Job: снимок состояния задания миграции.
type Job struct {
	ID               string           `json:"id"`
	From             string           `json:"from"`
	To               string           `json:"to"`
	Changes          []change.Summary `json:"changes"`
	AllowDestructive bool             `json:"allowDestructive"`
	Status           Status           `json:"status"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	StartedAt        *time.Time       `json:"startedAt,omitempty"`
	FinishedAt       *time.Time       `json:"finishedAt,omitempty"`
}

type job struct {
	Job
	plan Plan
	opts Options
	err  error
	done chan struct{}
}

type WorkerOptions struct {
	// Timeout: предел одной миграции; по истечении незафиксированная работа откатывается.
	Timeout   time.Duration
	QueueSize int
	// OnSuccess вызывается из горутины воркера после успешной фиксации.
	OnSuccess func(Plan)
}

// Worker выполняет миграции по одной в отдельной горутине. HTTP-обработчики ставят
// задания в очередь и опрашивают статус, не блокируясь на вводе-выводе хранилища.
type Worker struct {
	migrator *Migrator
	store    Store
	opts     WorkerOptions
	logger   *zap.Logger

	queue   chan *job
	stopped chan struct{}

	mu   sync.RWMutex
	jobs map[string]*job
	ids  []string
}

func NewWorker(m *Migrator, store Store, opts WorkerOptions, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Worker{
		migrator: m,
		store:    store,
		opts:     opts,
		logger:   logger,
		queue:    make(chan *job, opts.QueueSize),
		stopped:  make(chan struct{}),
		jobs:     map[string]*job{},
	}
}

// Run обрабатывает очередь до отмены ctx. Текущая миграция при отмене откатывается,
// если ещё не начала фиксацию; задания, оставшиеся в очереди, помечаются failed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			close(w.stopped)
			w.mu.Unlock()
			w.drain(ctx.Err())
			return
		case j := <-w.queue:
			w.execute(ctx, j)
		}
	}
}

func (w *Worker) drain(cause error) {
	for {
		select {
		case j := <-w.queue:
			w.finish(j, fmt.Errorf("%w: %w", ErrWorkerStopped, cause))
		default:
			return
		}
	}
}

func (w *Worker) execute(ctx context.Context, j *job) {
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	w.mu.Lock()
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	w.mu.Unlock()

	log := w.logger.With(zap.String("job", j.ID), zap.String("version", j.To))
	log.Info("migration job started")
	err := w.migrator.Run(ctx, w.store, j.plan, j.opts)
	if err == nil && w.opts.OnSuccess != nil {
		w.opts.OnSuccess(j.plan)
	}
	if err != nil {
		log.Warn("migration job failed", zap.Error(err))
	} else {
		log.Info("migration job succeeded")
	}
	w.finish(j, err)
}

func (w *Worker) finish(j *job, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.err = err
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
	} else {
		j.Status = StatusSucceeded
	}
	close(j.done)
}

// Submit ставит план в очередь. Ошибки политики (деструктивные изменения без согласия)
// возвращаются сразу, без постановки в очередь.
func (w *Worker) Submit(p Plan, opts Options) (Job, error) {
	if !opts.AllowDestructive {
		if d := p.Destructive(); len(d) > 0 {
			return Job{}, &DestructiveError{Changes: d}
		}
	}
	j := &job{
		Job: Job{
			ID:               ulid.Make().String(),
			From:             p.From.String(),
			To:               p.To.String(),
			Changes:          change.Summarize(p.Changes),
			AllowDestructive: opts.AllowDestructive,
			Status:           StatusPending,
			CreatedAt:        time.Now().UTC(),
		},
		plan: p,
		opts: opts,
		done: make(chan struct{}),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopped:
		return Job{}, ErrWorkerStopped
	default:
	}
	select {
	case w.queue <- j:
	default:
		return Job{}, ErrQueueFull
	}
	w.jobs[j.ID] = j
	w.ids = append(w.ids, j.ID)
	return j.snapshot(), nil
}

// Stopped закрывается, когда Run завершается.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

func (j *job) snapshot() Job {
	out := j.Job
	out.Changes = slices.Clone(j.Changes)
	return out
}

func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// List: все задания, новые первыми.
func (w *Worker) List() []Job {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Job, 0, len(w.ids))
	for i := len(w.ids) - 1; i >= 0; i-- {
		out = append(out, w.jobs[w.ids[i]].snapshot())
	}
	return out
}

// Wait ждёт завершения задания и возвращает его итог (ошибку миграции, если была).
func (w *Worker) Wait(ctx context.Context, id string) (Job, error) {
	w.mu.RLock()
	j, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return j.snapshot(), j.err
}
