package sqlstore

import (
	"strings"

	"qbase/internal/schema"
)

// Column: поле сущности в терминах таблицы. Ref — имя таблицы цели для RELATION.
type Column struct {
	ID         string
	Name       string
	Type       schema.FieldType
	Nullable   bool
	PrimaryKey bool
	Ref        string
}

type Table struct {
	Name    string
	Columns []Column
}

func (t Table) Column(id string) (Column, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// TableName: таблица сущности — имя в нижнем регистре, без множественного числа.
// Имена сущностей уникальны без учёта регистра, поэтому коллизий нет.
func TableName(entity string) string { return strings.ToLower(entity) }

func ColumnName(field string) string { return strings.ToLower(field) }

// TableOf строит описание таблицы сущности по текущему каталогу.
func TableOf(cat *schema.Schema, e *schema.Entity) Table {
	t := Table{Name: TableName(e.Name())}
	for _, f := range e.Fields() {
		c := Column{
			ID:         f.ID,
			Name:       ColumnName(f.Name),
			Type:       f.Type,
			Nullable:   f.Nullable,
			PrimaryKey: f.PrimaryKey,
		}
		if f.Type.Kind == schema.FieldRelation {
			if target, ok := cat.Entity(f.Type.Target); ok {
				c.Ref = TableName(target.Name())
			}
		}
		t.Columns = append(t.Columns, c)
	}
	return t
}

// Ident: идентификатор в двойных кавычках.
func Ident(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// Literal: строковый литерал SQL.
func Literal(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// ConstraintName: имя ограничения поля: префикс + identity token, а не имя,
// чтобы переименование поля не трогало ограничения.
func ConstraintName(prefix, fieldID string) string {
	r := strings.NewReplacer(":", "_", "-", "_")
	return prefix + "_" + strings.ToLower(r.Replace(fieldID))
}
