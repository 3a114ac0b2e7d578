// Package sqlite — SQLite-диалект хранилища схемы (modernc.org/sqlite, без cgo).
//
// SQLite умеет ALTER TABLE только для переименований и добавления nullable колонки;
// остальное делается пересборкой таблицы: новая таблица, копирование, drop, rename.
// Внешние ключи объявляются, но не проверяются (PRAGMA foreign_keys выключен),
// регулярные выражения и границы дат в CHECK не переносятся.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // driver: sqlite

	"qbase/internal/change"
	"qbase/internal/schema"
	"qbase/internal/sqlstore"
)

var ident = sqlstore.Ident

// Open открывает файл базы. Одно соединение: SQLite однописательская, а для
// ":memory:" каждое соединение — отдельная база.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewStore(ctx context.Context, db *sql.DB, logger *zap.Logger) (*sqlstore.Store, error) {
	return sqlstore.New(ctx, db, Dialect{}, logger)
}

type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

// Lock не нужен: внутри процесса миграции сериализует хранилище, между процессами
// файловая блокировка SQLite.
func (Dialect) Lock(context.Context, *sql.Tx) error { return nil }

func (Dialect) Rebind(query string) string { return query }

func (Dialect) Explain(err error) error { return err }

func (Dialect) Bootstrap() []string {
	return []string{
		`create table if not exists qbase_catalog (
  id integer primary key,
  document text not null
)`,
		`create table if not exists qbase_migrations (
  id integer primary key autoincrement,
  version text not null unique,
  applied_at text not null,
  checksum text not null,
  changes text not null
)`,
	}
}

func mapType(k schema.FieldKind) (string, error) {
	switch k {
	case schema.FieldText, schema.FieldDate, schema.FieldRelation, schema.FieldRelationMany:
		return "text", nil
	case schema.FieldNumber:
		return "real", nil
	case schema.FieldBool:
		return "integer", nil
	}
	return "", fmt.Errorf("unknown type: %s", k)
}

func columnDef(c sqlstore.Column) (string, error) {
	typ, err := mapType(c.Type.Kind)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", ident(c.Name), typ)
	if !c.Nullable {
		b.WriteString(" not null")
	}
	if c.PrimaryKey {
		b.WriteString(" primary key")
	}
	if expr := checkExpr(c); expr != "" {
		fmt.Fprintf(&b, " check (%s)", expr)
	}
	if c.Ref != "" {
		fmt.Fprintf(&b, " references %s(%s) on delete restrict", ident(c.Ref), ident("id"))
	}
	return b.String(), nil
}

func checkExpr(c sqlstore.Column) string {
	col := ident(c.Name)
	var parts []string
	switch c.Type.Kind {
	case schema.FieldText:
		r := c.Type.TextRule()
		if r.Min > 0 {
			parts = append(parts, fmt.Sprintf("length(%s) >= %d", col, r.Min))
		}
		if r.Max > 0 {
			parts = append(parts, fmt.Sprintf("length(%s) <= %d", col, r.Max))
		}
	case schema.FieldNumber:
		r := c.Type.NumberRule()
		if r.Integer {
			parts = append(parts, fmt.Sprintf("%s = cast(%s as integer)", col, col))
		}
		if r.Min != nil {
			parts = append(parts, fmt.Sprintf("%s >= %s", col, strconv.FormatFloat(*r.Min, 'g', -1, 64)))
		}
		if r.Max != nil {
			parts = append(parts, fmt.Sprintf("%s <= %s", col, strconv.FormatFloat(*r.Max, 'g', -1, 64)))
		}
	case schema.FieldBool:
		parts = append(parts, fmt.Sprintf("%s in (0, 1)", col))
	}
	return strings.Join(parts, " and ")
}

func (Dialect) CreateTable(t sqlstore.Table) ([]string, error) {
	stmt, err := createTable(t.Name, t)
	if err != nil {
		return nil, err
	}
	return []string{stmt}, nil
}

func createTable(name string, t sqlstore.Table) (string, error) {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := columnDef(c)
		if err != nil {
			return "", fmt.Errorf("%s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("create table %s (\n  %s\n)", ident(name), strings.Join(cols, ",\n  ")), nil
}

func (Dialect) DropTable(t sqlstore.Table) []string {
	return []string{"drop table " + ident(t.Name)}
}

func (Dialect) RenameTable(from, to string) []string {
	return []string{fmt.Sprintf("alter table %s rename to %s", ident(from), ident(to))}
}

func (Dialect) AlterTable(before, after sqlstore.Table, fc change.FieldChange) ([]string, error) {
	switch fc := fc.(type) {
	case change.RenameField:
		from, _ := before.Column(fc.Field)
		to, _ := after.Column(fc.Field)
		return []string{fmt.Sprintf("alter table %s rename column %s to %s", ident(after.Name), ident(from.Name), ident(to.Name))}, nil
	case change.ChangeView:
		return nil, nil
	case change.AddField:
		c, _ := after.Column(fc.Field.ID)
		if c.Nullable && c.Ref == "" {
			def, err := columnDef(c)
			if err != nil {
				return nil, err
			}
			return []string{fmt.Sprintf("alter table %s add column %s", ident(after.Name), def)}, nil
		}
	}
	return rebuild(before, after)
}

// rebuild пересобирает таблицу по новому описанию. Колонки сопоставляются по
// identity token; новые заполняются NULL, поэтому NOT NULL на непустой таблице падает.
func rebuild(before, after sqlstore.Table) ([]string, error) {
	tmp := after.Name + "__rebuild"
	create, err := createTable(tmp, after)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(after.Columns))
	exprs := make([]string, 0, len(after.Columns))
	for _, c := range after.Columns {
		cols = append(cols, ident(c.Name))
		old, ok := before.Column(c.ID)
		if !ok {
			exprs = append(exprs, "null")
			continue
		}
		exprs = append(exprs, convert(old, c))
	}
	return []string{
		create,
		fmt.Sprintf("insert into %s (%s) select %s from %s",
			ident(tmp), strings.Join(cols, ", "), strings.Join(exprs, ", "), ident(before.Name)),
		"drop table " + ident(before.Name),
		fmt.Sprintf("alter table %s rename to %s", ident(tmp), ident(after.Name)),
	}, nil
}

// convert: выражение копирования колонки при смене типа (семантика CAST в SQLite).
func convert(from, to sqlstore.Column) string {
	col := ident(from.Name)
	if from.Type.Kind == to.Type.Kind {
		return col
	}
	switch to.Type.Kind {
	case schema.FieldNumber:
		return fmt.Sprintf("cast(%s as real)", col)
	case schema.FieldBool:
		if from.Type.Kind == schema.FieldText {
			return fmt.Sprintf("case lower(trim(%s)) when 'true' then 1 when 'false' then 0 else %s end", col, col)
		}
		return fmt.Sprintf("%s <> 0", col)
	case schema.FieldRelation:
		if from.Type.Kind == schema.FieldRelationMany {
			return fmt.Sprintf("json_extract(%s, '$[0]')", col)
		}
	case schema.FieldRelationMany:
		return fmt.Sprintf("case when %s is null then null else json_array(%s) end", col, col)
	}
	return fmt.Sprintf("cast(%s as text)", col)
}
