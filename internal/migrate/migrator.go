// Package migrate применяет упорядоченный список изменений схемы к хранилищу
// в одной атомарной единице работы и ведёт журнал миграций.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"qbase/internal/change"
	"qbase/internal/compare"
	"qbase/internal/order"
	"qbase/internal/schema"
)

type Options struct {
	// AllowDestructive: согласие на изменения, которые могут потерять данные
	// (RemoveEntity, RemoveField, ChangeType).
	AllowDestructive bool
}

type Migrator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{logger: logger}
}

// Migrate применяет changes (уже упорядоченные) и записывает в журнал target.
//
// Деструктивные изменения без opts.AllowDestructive отклоняются до обращения к хранилищу.
// Если журнал уже на target или выше, ничего не делает. Ошибка любого изменения откатывает
// всю партию. Отмена ctx до фиксации откатывает; сама фиксация не прерывается.
// Повторов нет: упавшее изменение — сигнал о данных, а не временный сбой.
func (m *Migrator) Migrate(ctx context.Context, store Store, changes []change.Change, target *semver.Version, opts Options) (err error) {
	if target == nil {
		return errors.New("migrate: target version is required")
	}
	if !opts.AllowDestructive {
		if d := change.Destructive(changes); len(d) > 0 {
			return &DestructiveError{Changes: d}
		}
	}

	uow, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", target, err)
	}
	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := uow.Rollback(); rbErr != nil {
			m.logger.Error("rollback failed", zap.String("version", target.String()), zap.Error(rbErr))
		}
	}()

	current, err := uow.HistoryVersion(ctx)
	if err != nil {
		return fmt.Errorf("read migration history: %w", err)
	}
	if current != nil && !current.LessThan(target) {
		m.logger.Info("schema up to date", zap.String("current", current.String()), zap.String("version", target.String()))
		return nil
	}

	log := m.logger.With(zap.String("version", target.String()))
	log.Info("migration started", zap.Int("changes", len(changes)))
	for i, c := range changes {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migration %s aborted before change #%d: %w", target, i, err)
		}
		log.Debug("applying change", zap.Int("index", i), zap.Stringer("change", c))
		if err := uow.Apply(ctx, c); err != nil {
			log.Error("change failed", zap.Int("index", i), zap.Stringer("change", c), zap.Error(err))
			return &ApplyError{Index: i, Change: c, Err: err}
		}
	}
	if err := uow.WriteHistory(ctx, target, changes); err != nil {
		return fmt.Errorf("write migration history %s: %w", target, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migration %s aborted before commit: %w", target, err)
	}

	done = true
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", target, err)
	}
	log.Info("migration committed")
	return nil
}

// Plan: отсортированный список изменений между двумя версиями схемы.
type Plan struct {
	From    *semver.Version
	To      *semver.Version
	Changes []change.Change
	// Target: схема, которую отражает хранилище после применения.
	Target *schema.Schema
}

func (p Plan) Destructive() []change.Change { return change.Destructive(p.Changes) }

// NewPlan сравнивает снимки и упорядочивает изменения относительно old.
func NewPlan(old, next *schema.Schema) (Plan, error) {
	changes, err := compare.Compare(old, next)
	if err != nil {
		return Plan{}, err
	}
	sorted, err := order.Sort(changes, old)
	if err != nil {
		return Plan{}, err
	}
	return Plan{From: old.Version(), To: next.Version(), Changes: sorted, Target: next.Clone()}, nil
}

// Run: Migrate для готового плана.
func (m *Migrator) Run(ctx context.Context, store Store, p Plan, opts Options) error {
	return m.Migrate(ctx, store, p.Changes, p.To, opts)
}
