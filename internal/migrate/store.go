package migrate

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"

	"qbase/internal/change"
)

// Store: хранилище, к которому применяются изменения схемы. Begin сериализует
// миграции: одновременно открыта не более чем одна единица работы на хранилище.
// Begin блокируется до получения блокировки или отмены ctx.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork: атомарная единица работы. Всё, что сделано через неё, становится видно
// только после Commit; Rollback отменяет всё. После Commit/Rollback объект не используется.
type UnitOfWork interface {
	Apply(ctx context.Context, c change.Change) error
	// HistoryVersion: последняя записанная версия; nil, если миграций ещё не было.
	HistoryVersion(ctx context.Context) (*semver.Version, error)
	WriteHistory(ctx context.Context, version *semver.Version, changes []change.Change) error
	Commit() error
	Rollback() error
}

// HistoryEntry: строка журнала миграций.
type HistoryEntry struct {
	Version   string          `json:"version"`
	AppliedAt time.Time       `json:"appliedAt"`
	Checksum  string          `json:"checksum"`
	Changes   []change.Change `json:"-"`
}

// HistoryReader: необязательная возможность хранилища: чтение журнала вне миграции.
type HistoryReader interface {
	History(ctx context.Context) ([]HistoryEntry, error)
}
