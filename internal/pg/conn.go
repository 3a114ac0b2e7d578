// Package pg — Postgres-диалект хранилища схемы и подключение через pgx.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"go.uber.org/zap"

	"qbase/internal/sqlstore"
)

func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewStore: хранилище схемы поверх открытой базы; служебные таблицы создаются при необходимости.
func NewStore(ctx context.Context, db *sql.DB, logger *zap.Logger) (*sqlstore.Store, error) {
	return sqlstore.New(ctx, db, NewDialect(), logger)
}
