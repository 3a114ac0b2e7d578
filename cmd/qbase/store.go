package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"qbase/internal/config"
	"qbase/internal/dsl"
	"qbase/internal/memstore"
	"qbase/internal/migrate"
	"qbase/internal/pg"
	"qbase/internal/schema"
	"qbase/internal/sqlite"
	"qbase/internal/sqlstore"
)

// backend: открытое хранилище с доступом к его текущему каталогу.
type backend struct {
	store   migrate.Store
	history migrate.HistoryReader
	schema  func(context.Context) (*schema.Schema, error)
	close   func() error
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	log := logger.Named("store")
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case config.DriverMemory:
		s := memstore.New(log)
		return &backend{
			store:   s,
			history: s,
			schema:  func(context.Context) (*schema.Schema, error) { return s.Schema(), nil },
			close:   func() error { return nil },
		}, nil
	case config.DriverPostgres:
		db, err := pg.Open(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return sqlBackend(ctx, db, log, pg.NewStore)
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBURL, err)
		}
		return sqlBackend(ctx, db, log, sqlite.NewStore)
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

type sqlStoreFactory func(context.Context, *sql.DB, *zap.Logger) (*sqlstore.Store, error)

func sqlBackend(ctx context.Context, db *sql.DB, logger *zap.Logger, open sqlStoreFactory) (*backend, error) {
	s, err := open(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &backend{store: s, history: s, schema: s.Schema, close: db.Close}, nil
}

// loadSchema: .dsl файл или каталог — DSL, иначе документ JSON/YAML.
func loadSchema(path string) (*schema.Schema, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return dsl.Load(path)
	}
	if schema.FormatOf(path) == "dsl" {
		return dsl.Load(path)
	}
	return schema.Load(path)
}
