// Package memstore — хранилище в памяти. Ведёт себя как реляционная база в том, что
// важно для миграций: NOT NULL при наличии строк, ссылочная целостность, конверсия
// значений при смене типа, атомарная фиксация. Используется в тестах и как драйвер
// "memory" для локального запуска.
package memstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"qbase/internal/change"
	"qbase/internal/migrate"
	"qbase/internal/schema"
)

var ErrClosed = errors.New("unit of work already finished")

// Row: строка сущности; ключи — identity token-ы полей.
type Row map[string]any

type historyRow struct {
	version   *semver.Version
	appliedAt time.Time
	changes   []change.Change
	checksum  string
}

type state struct {
	catalog *schema.Schema
	rows    map[string][]Row
	history []historyRow
}

func (s *state) clone() *state {
	c := &state{catalog: s.catalog.Clone(), rows: make(map[string][]Row, len(s.rows)), history: slices.Clone(s.history)}
	for id, rows := range s.rows {
		cp := make([]Row, len(rows))
		for i, r := range rows {
			cp[i] = r.clone()
		}
		c.rows[id] = cp
	}
	return c
}

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if ids, ok := v.([]string); ok {
			v = slices.Clone(ids)
		}
		out[k] = v
	}
	return out
}

type Store struct {
	sem    chan struct{}
	mu     sync.RWMutex
	state  *state
	logger *zap.Logger

	failOn func(change.Change) error
}

// New создаёт пустое хранилище: ни одной сущности, журнал пуст.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sem:    make(chan struct{}, 1),
		state:  &state{catalog: schema.New(nil, schema.Settings{}), rows: map[string][]Row{}},
		logger: logger,
	}
}

// FailOn задаёт хук, который может отклонить изменение до его применения (для тестов отказов).
func (s *Store) FailOn(fn func(change.Change) error) {
	s.mu.Lock()
	s.failOn = fn
	s.mu.Unlock()
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire memstore lock: %w", ctx.Err())
	}
}

func (s *Store) release() { <-s.sem }

func (s *Store) Begin(ctx context.Context) (migrate.UnitOfWork, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	work := s.state.clone()
	failOn := s.failOn
	s.mu.RUnlock()
	return &unit{store: s, work: work, failOn: failOn}, nil
}

// Schema: схема, которую сейчас отражает хранилище.
func (s *Store) Schema() *schema.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.catalog.Clone()
}

func (s *Store) Rows(entityID string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.state.rows[entityID]
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
	}
	return out
}

// Insert добавляет строку вне миграции. Поле id генерируется, если не задано;
// created/updated проставляются. Возвращает id строки.
func (s *Store) Insert(ctx context.Context, entityID string, values Row) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.catalog.Entity(entityID)
	if !ok {
		return "", fmt.Errorf("entity %s: %w", entityID, schema.ErrNotFound)
	}
	row := Row{}
	now := time.Now().UTC()
	for _, f := range e.Fields() {
		v, ok := values[f.ID]
		switch {
		case f.PrimaryKey && (!ok || v == nil):
			v = newRowID()
		case f.Base && !f.PrimaryKey:
			v = now
		}
		row[f.ID] = v
	}
	for k := range values {
		if _, ok := e.Field(k); !ok {
			return "", fmt.Errorf("%s: unknown field %s", e.Name(), k)
		}
	}
	for _, f := range e.Fields() {
		if err := checkValue(f, row[f.ID]); err != nil {
			return "", err
		}
		if err := s.state.checkRefs(f, row[f.ID]); err != nil {
			return "", err
		}
	}
	pk, _ := e.PrimaryKey()
	id := row[pk.ID].(string)
	for _, r := range s.state.rows[entityID] {
		if r[pk.ID] == id {
			return "", fmt.Errorf("%s: duplicate key %q", e.Name(), id)
		}
	}
	s.state.rows[entityID] = append(s.state.rows[entityID], row)
	return id, nil
}

// Checksum: отпечаток всего состояния (каталог, данные, журнал).
func (s *Store) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type historyDoc struct {
		Version  string    `json:"version"`
		At       time.Time `json:"at"`
		Checksum string    `json:"checksum"`
	}
	doc := struct {
		Catalog schema.Document  `json:"catalog"`
		Rows    map[string][]Row `json:"rows"`
		History []historyDoc     `json:"history"`
	}{Catalog: s.state.catalog.Document(), Rows: s.state.rows}
	for _, h := range s.state.history {
		doc.History = append(doc.History, historyDoc{Version: h.version.String(), At: h.appliedAt, Checksum: h.checksum})
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("memstore: checksum: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

func (s *Store) History(_ context.Context) ([]migrate.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]migrate.HistoryEntry, 0, len(s.state.history))
	for _, h := range s.state.history {
		out = append(out, migrate.HistoryEntry{
			Version:   h.version.String(),
			AppliedAt: h.appliedAt,
			Checksum:  h.checksum,
			Changes:   h.changes,
		})
	}
	return out, nil
}

type unit struct {
	store  *Store
	work   *state
	failOn func(change.Change) error
	closed bool
}

func (u *unit) Apply(ctx context.Context, c change.Change) error {
	if u.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.failOn != nil {
		if err := u.failOn(c); err != nil {
			return err
		}
	}
	return u.work.apply(c)
}

func (u *unit) HistoryVersion(context.Context) (*semver.Version, error) {
	if u.closed {
		return nil, ErrClosed
	}
	var latest *semver.Version
	for _, h := range u.work.history {
		if latest == nil || h.version.GreaterThan(latest) {
			latest = h.version
		}
	}
	return latest, nil
}

func (u *unit) WriteHistory(_ context.Context, v *semver.Version, changes []change.Change) error {
	if u.closed {
		return ErrClosed
	}
	sum, _, err := change.Checksum(changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	kept := make([]change.Change, len(changes))
	for i, c := range changes {
		kept[i] = change.Clone(c)
	}
	u.work.history = append(u.work.history, historyRow{
		version:   v,
		appliedAt: time.Now().UTC(),
		changes:   kept,
		checksum:  sum,
	})
	u.work.catalog = u.work.catalog.WithVersion(v)
	return nil
}

func (u *unit) Commit() error {
	if u.closed {
		return ErrClosed
	}
	u.closed = true
	u.store.mu.Lock()
	u.store.state = u.work
	u.store.mu.Unlock()
	u.store.release()
	u.store.logger.Debug("memstore commit", zap.String("version", u.work.catalog.Version().String()), zap.Int("entities", len(u.work.catalog.Entities())))
	return nil
}

func (u *unit) Rollback() error {
	if u.closed {
		return nil
	}
	u.closed = true
	u.store.release()
	return nil
}
