// Package sqlstore — хранилище поверх database/sql: каждое изменение схемы превращается
// в DDL выбранного диалекта и выполняется в одной транзакции вместе с записью в журнал.
// Текущий каталог (документ схемы) хранится в служебной таблице рядом с журналом.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"qbase/internal/change"
	"qbase/internal/migrate"
	"qbase/internal/schema"
)

var ErrClosed = errors.New("unit of work already finished")

// Dialect: всё, чем отличаются конкретные СУБД. Запросы пишутся с плейсхолдерами `?`,
// Rebind переводит их в синтаксис драйвера.
type Dialect interface {
	Name() string
	// Lock берёт блокировку миграций внутри транзакции; снимается при её завершении.
	Lock(ctx context.Context, tx *sql.Tx) error
	Rebind(query string) string
	// Bootstrap: idempotent DDL служебных таблиц qbase_catalog и qbase_migrations.
	Bootstrap() []string
	CreateTable(t Table) ([]string, error)
	DropTable(t Table) []string
	RenameTable(from, to string) []string
	AlterTable(before, after Table, fc change.FieldChange) ([]string, error)
	// Explain дополняет ошибку драйвера подробностями (код SQLSTATE и т. п.).
	Explain(err error) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	sem     chan struct{}
}

// New создаёт хранилище и при необходимости служебные таблицы.
func New(ctx context.Context, db *sql.DB, d Dialect, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, dialect: d, logger: logger.With(zap.String("dialect", d.Name())), sem: make(chan struct{}, 1)}
	if err := s.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("%s bootstrap: %w", d.Name(), err)
	}
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.dialect.Lock(ctx, tx); err != nil {
		return err
	}
	for _, q := range s.dialect.Bootstrap() {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return s.dialect.Explain(err)
		}
	}
	return tx.Commit()
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire %s lock: %w", s.dialect.Name(), ctx.Err())
	}
}

func (s *Store) release() { <-s.sem }

// Begin открывает транзакцию миграции. Транзакция не привязана к отмене ctx:
// откат делает мигратор, а фиксация не прерывается.
func (s *Store) Begin(ctx context.Context) (migrate.UnitOfWork, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	fail := func(err error) (migrate.UnitOfWork, error) {
		_ = tx.Rollback()
		s.release()
		return nil, err
	}
	if err := s.dialect.Lock(ctx, tx); err != nil {
		return fail(fmt.Errorf("migration lock: %w", s.dialect.Explain(err)))
	}
	cat, err := s.loadCatalog(ctx, tx)
	if err != nil {
		return fail(err)
	}
	return &unit{store: s, tx: tx, catalog: cat}, nil
}

// Schema: схема, которую сейчас отражает база.
func (s *Store) Schema(ctx context.Context) (*schema.Schema, error) {
	return s.loadCatalog(ctx, s.db)
}

func (s *Store) loadCatalog(ctx context.Context, q queryer) (*schema.Schema, error) {
	var doc string
	err := q.QueryRowContext(ctx, s.dialect.Rebind(`select document from qbase_catalog where id = ?`), 1).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.New(nil, schema.Settings{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", s.dialect.Explain(err))
	}
	cat, err := schema.Decode([]byte(doc), "json")
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

func (s *Store) History(ctx context.Context) ([]migrate.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `select version, applied_at, checksum, changes from qbase_migrations order by id`)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", s.dialect.Explain(err))
	}
	defer rows.Close()

	var out []migrate.HistoryEntry
	for rows.Next() {
		var (
			h         migrate.HistoryEntry
			appliedAt string
			raw       string
		)
		if err := rows.Scan(&h.Version, &appliedAt, &h.Checksum, &raw); err != nil {
			return nil, err
		}
		if h.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt); err != nil {
			return nil, fmt.Errorf("history %s: %w", h.Version, err)
		}
		if h.Changes, err = change.Unmarshal([]byte(raw)); err != nil {
			return nil, fmt.Errorf("history %s: %w", h.Version, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type unit struct {
	store   *Store
	tx      *sql.Tx
	catalog *schema.Schema
	closed  bool
}

func (u *unit) Apply(ctx context.Context, c change.Change) error {
	if u.closed {
		return ErrClosed
	}
	stmts, err := u.statements(c)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		u.store.logger.Debug("exec ddl", zap.Stringer("change", c), zap.String("sql", q))
		if _, err := u.tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: %w", q, u.store.dialect.Explain(err))
		}
	}
	return nil
}

// statements переносит изменение на рабочую копию каталога (с проверкой инвариантов)
// и возвращает DDL для него.
func (u *unit) statements(c change.Change) ([]string, error) {
	d := u.store.dialect
	switch c := c.(type) {
	case change.AddEntity:
		if err := change.Replay(u.catalog, c); err != nil {
			return nil, err
		}
		e, _ := u.catalog.Entity(c.Entity.ID())
		return d.CreateTable(TableOf(u.catalog, e))
	case change.RemoveEntity:
		e, ok := u.catalog.Entity(c.Entity.ID())
		if !ok {
			return nil, fmt.Errorf("entity %s: %w", c.Entity.Name(), schema.ErrNotFound)
		}
		t := TableOf(u.catalog, e)
		if err := change.Replay(u.catalog, c); err != nil {
			return nil, err
		}
		return d.DropTable(t), nil
	case change.RenameEntity:
		e, ok := u.catalog.Entity(c.ID)
		if !ok {
			return nil, fmt.Errorf("entity %s: %w", c.From, schema.ErrNotFound)
		}
		from := TableName(e.Name())
		if err := change.Replay(u.catalog, c); err != nil {
			return nil, err
		}
		return d.RenameTable(from, TableName(c.To)), nil
	case change.ChangeEntity:
		var out []string
		for _, fc := range c.Fields {
			e, ok := u.catalog.Entity(c.ID)
			if !ok {
				return nil, fmt.Errorf("entity %s: %w", c.Name, schema.ErrNotFound)
			}
			before := TableOf(u.catalog, e)
			if err := change.ReplayField(u.catalog, c.ID, fc); err != nil {
				return nil, fmt.Errorf("%s: %w", fc, err)
			}
			e, _ = u.catalog.Entity(c.ID)
			stmts, err := d.AlterTable(before, TableOf(u.catalog, e), fc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fc, err)
			}
			out = append(out, stmts...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("sqlstore: unknown change %T", c)
}

func (u *unit) HistoryVersion(ctx context.Context) (*semver.Version, error) {
	if u.closed {
		return nil, ErrClosed
	}
	rows, err := u.tx.QueryContext(ctx, `select version from qbase_migrations`)
	if err != nil {
		return nil, u.store.dialect.Explain(err)
	}
	defer rows.Close()
	var latest *semver.Version
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("history version %q: %w", raw, err)
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, rows.Err()
}

func (u *unit) WriteHistory(ctx context.Context, v *semver.Version, changes []change.Change) error {
	if u.closed {
		return ErrClosed
	}
	sum, encoded, err := change.Checksum(changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	d := u.store.dialect
	_, err = u.tx.ExecContext(ctx,
		d.Rebind(`insert into qbase_migrations (version, applied_at, checksum, changes) values (?, ?, ?, ?)`),
		v.String(), time.Now().UTC().Format(time.RFC3339Nano), sum, string(encoded))
	if err != nil {
		return d.Explain(err)
	}

	u.catalog = u.catalog.WithVersion(v)
	doc, err := json.Marshal(u.catalog.Document())
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if _, err := u.tx.ExecContext(ctx, `delete from qbase_catalog`); err != nil {
		return d.Explain(err)
	}
	if _, err := u.tx.ExecContext(ctx, d.Rebind(`insert into qbase_catalog (id, document) values (?, ?)`), 1, string(doc)); err != nil {
		return d.Explain(err)
	}
	return nil
}

func (u *unit) Commit() error {
	if u.closed {
		return ErrClosed
	}
	u.closed = true
	defer u.store.release()
	if err := u.tx.Commit(); err != nil {
		return u.store.dialect.Explain(err)
	}
	u.store.logger.Debug("catalog committed", zap.String("version", u.catalog.Version().String()))
	return nil
}

func (u *unit) Rollback() error {
	if u.closed {
		return nil
	}
	u.closed = true
	defer u.store.release()
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
