package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// lockKey: ключ pg_advisory_xact_lock для миграций qbase (FNV-1a от "qbase_migrations").
var lockKey = hashLockKey("qbase_migrations")

// Dialect: Postgres: транзакционный DDL, advisory lock, CHECK/FK ограничения и USING-приведения.
type Dialect struct {
	OnDelete OnDeletePolicy
}

func NewDialect() Dialect { return Dialect{OnDelete: OnDeleteRestrict} }

func (Dialect) Name() string { return "postgres" }

// Lock: блокировка транзакционная, снимается при commit/rollback; другие процессы ждут.
func (Dialect) Lock(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("pg_advisory_xact_lock(%d): %w", lockKey, err)
	}
	return nil
}

// Rebind заменяет `?` на $1, $2, ...
func (Dialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (Dialect) Bootstrap() []string {
	return []string{
		`create table if not exists qbase_catalog (
  id integer primary key,
  document text not null
)`,
		`create table if not exists qbase_migrations (
  id bigserial primary key,
  version text not null unique,
  applied_at text not null,
  checksum text not null,
  changes text not null
)`,
	}
}

// Explain добавляет к ошибке подробности *pgconn.PgError (detail, ограничение).
// Сам текст PgError уже содержит SQLSTATE.
func (Dialect) Explain(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	var extra []string
	if pgErr.Detail != "" {
		extra = append(extra, "detail: "+pgErr.Detail)
	}
	if pgErr.ConstraintName != "" {
		extra = append(extra, "constraint: "+pgErr.ConstraintName)
	}
	if pgErr.ColumnName != "" {
		extra = append(extra, "column: "+pgErr.ColumnName)
	}
	if len(extra) == 0 {
		return err
	}
	return fmt.Errorf("%w [%s]", err, strings.Join(extra, "; "))
}

// Code: SQLSTATE ошибки Postgres или пустая строка.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
